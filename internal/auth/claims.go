package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims of a backend session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	UID string `json:"uid"`
}

// ParseSessionToken decodes a session token without verifying its signature.
// The user ID comes from the uid claim, falling back to the subject.
func ParseSessionToken(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.UID == "" {
		claims.UID = claims.Subject
	}
	if claims.UID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrTokenInvalid)
	}
	return claims, nil
}

// Expiry returns the token expiry, or the zero time if it has none.
func (c *SessionClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
