package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Credentials is one of Password or SSO.
type Credentials interface {
	// Kind names the credential kind.
	Kind() string
	// Validate reports malformed credentials without contacting the backend.
	Validate() error
	// material is the input to the cache key.
	material() []byte
}

// Password authenticates with email and password.
type Password struct {
	Email    string
	Password string
}

// Kind implements Credentials.
func (Password) Kind() string { return "password" }

// Validate implements Credentials.
func (p Password) Validate() error {
	if strings.TrimSpace(p.Email) == "" || !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: email is missing or malformed", ErrMalformedCredentials)
	}
	if p.Password == "" {
		return fmt.Errorf("%w: password is empty", ErrMalformedCredentials)
	}
	return nil
}

func (p Password) material() []byte {
	return []byte("password\x00" + strings.ToLower(strings.TrimSpace(p.Email)) + "\x00" + p.Password)
}

// SSO authenticates by exchanging an external single sign-on token.
type SSO struct {
	Token string
}

// Kind implements Credentials.
func (SSO) Kind() string { return "sso" }

// Validate implements Credentials.
func (s SSO) Validate() error {
	if strings.TrimSpace(s.Token) == "" {
		return fmt.Errorf("%w: sso token is empty", ErrMalformedCredentials)
	}
	return nil
}

func (s SSO) material() []byte {
	return []byte("sso\x00" + s.Token)
}

// Session is an authenticated backend session.
type Session struct {
	Token     string
	UID       string
	ExpiresAt time.Time
}

// Backend error codes that reject the credentials themselves.
const (
	CodeInvalidCredentials = "invalid-credentials"
	CodeInvalidToken       = "invalid-token"
)

// Sentinel errors for authentication.
var (
	ErrInvalidCredentials   = errors.New("auth: invalid credentials")
	ErrInvalidToken         = errors.New("auth: invalid sso token")
	ErrMalformedCredentials = errors.New("auth: malformed credentials")
	ErrTokenInvalid         = errors.New("auth: malformed session token")
)

// IsTerminal reports whether an authentication error must not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrMalformedCredentials) ||
		errors.Is(err, ErrTokenInvalid)
}
