package backend

import (
	"context"
	"net/http"
	"net/url"
)

// API paths.
const (
	PathSync        = "/sync"
	PathUpdateState = "/update-state"
	PathNotify      = "/notify"
	PathLogin       = "/auth/login"
	PathSSO         = "/auth/sso"
)

// Session is an authenticated view of the backend for one group.
type Session struct {
	client *Client
	token  string
	group  string
}

// Session binds a session token and group to the client.
func (c *Client) Session(token, group string) *Session {
	return &Session{client: c, token: token, group: group}
}

func (s *Session) query(extra map[string]string) url.Values {
	q := url.Values{}
	if s.group != "" {
		q.Set("group", s.group)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	return q
}

// SyncRequest is the body of a sync call.
type SyncRequest struct {
	Devices any `json:"devices"`
}

// Sync pushes the full device directory.
func (s *Session) Sync(ctx context.Context, devices any) error {
	return s.client.Post(ctx, PathSync, s.query(nil), s.token, SyncRequest{Devices: devices}, nil)
}

// ReportState pushes a partial state patch for one device.
func (s *Session) ReportState(ctx context.Context, deviceID string, patch map[string]any) error {
	return s.client.Post(ctx, PathUpdateState, s.query(map[string]string{"id": deviceID}), s.token, patch, nil)
}

// Notify sends a structured notification.
func (s *Session) Notify(ctx context.Context, notification map[string]any) error {
	return s.client.Post(ctx, PathNotify, s.query(nil), s.token, notification, nil)
}

// TokenResponse is the body returned by the auth endpoints.
type TokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

// Login exchanges email and password for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp TokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.Post(ctx, PathLogin, nil, "", body, &resp); err != nil {
		return "", err
	}
	return resp.token(PathLogin)
}

// ExchangeSSO exchanges an external single sign-on token for a session token.
func (c *Client) ExchangeSSO(ctx context.Context, ssoToken string) (string, error) {
	var resp TokenResponse
	if err := c.Post(ctx, PathSSO, nil, "", map[string]string{"token": ssoToken}, &resp); err != nil {
		return "", err
	}
	return resp.token(PathSSO)
}

// token treats an error field or a missing token in a 2xx body as a failure.
func (r TokenResponse) token(path string) (string, error) {
	if r.Error != "" || r.Token == "" {
		return "", &HTTPError{Status: http.StatusOK, Code: r.Error, Path: path}
	}
	return r.Token, nil
}
