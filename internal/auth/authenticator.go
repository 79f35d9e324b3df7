package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-homesync/internal/backend"
)

// Authenticate exchanges credentials for a backend session.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - client: Backend API client
//   - creds: Password or SSO credentials
//
// Returns:
//   - Session: Session token with the decoded user ID and expiry
//   - error: Terminal errors (see IsTerminal) or a transient transport error
func Authenticate(ctx context.Context, client *backend.Client, creds Credentials) (Session, error) {
	if creds == nil {
		return Session{}, fmt.Errorf("%w: no credentials", ErrMalformedCredentials)
	}
	if err := creds.Validate(); err != nil {
		return Session{}, err
	}

	var (
		token string
		err   error
	)
	switch c := creds.(type) {
	case Password:
		token, err = client.Login(ctx, c.Email, c.Password)
	case SSO:
		token, err = client.ExchangeSSO(ctx, c.Token)
	default:
		return Session{}, fmt.Errorf("%w: unsupported kind %q", ErrMalformedCredentials, creds.Kind())
	}
	if err != nil {
		return Session{}, classify(err)
	}

	claims, err := ParseSessionToken(token)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UID: claims.UID, ExpiresAt: claims.Expiry()}, nil
}

// classify maps backend rejections onto the auth sentinels. Only the
// credential rejection codes are terminal; every other failure is retried.
func classify(err error) error {
	var httpErr *backend.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	switch httpErr.Code {
	case CodeInvalidCredentials:
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	case CodeInvalidToken:
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return err
}
