package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestParseSessionToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	tests := []struct {
		name    string
		claims  jwt.Claims
		wantUID string
		wantErr bool
	}{
		{
			name:    "uid claim",
			claims:  SessionClaims{UID: "user-1", RegisteredClaims: jwt.RegisteredClaims{Subject: "other", ExpiresAt: jwt.NewNumericDate(expiry)}},
			wantUID: "user-1",
		},
		{
			name:    "subject fallback",
			claims:  jwt.RegisteredClaims{Subject: "user-2", ExpiresAt: jwt.NewNumericDate(expiry)},
			wantUID: "user-2",
		},
		{
			name:    "no user",
			claims:  jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(expiry)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseSessionToken(signToken(t, tt.claims))
			if tt.wantErr {
				if !errors.Is(err, ErrTokenInvalid) {
					t.Fatalf("error = %v, want ErrTokenInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSessionToken() error = %v", err)
			}
			if claims.UID != tt.wantUID {
				t.Errorf("UID = %q, want %q", claims.UID, tt.wantUID)
			}
			if !claims.Expiry().Equal(expiry) {
				t.Errorf("Expiry() = %v, want %v", claims.Expiry(), expiry)
			}
		})
	}
}

func TestParseSessionToken_Malformed(t *testing.T) {
	_, err := ParseSessionToken("not-a-jwt")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestSessionClaims_NoExpiry(t *testing.T) {
	claims, err := ParseSessionToken(signToken(t, jwt.RegisteredClaims{Subject: "u"}))
	if err != nil {
		t.Fatalf("ParseSessionToken() error = %v", err)
	}
	if !claims.Expiry().IsZero() {
		t.Errorf("Expiry() = %v, want zero", claims.Expiry())
	}
}
