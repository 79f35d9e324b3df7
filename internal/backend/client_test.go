package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
)

type captured struct {
	method   string
	path     string
	query    string
	auth     string
	agent    string
	encoding string
	body     map[string]any
}

func newServer(t *testing.T, status int, response string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		got.agent = r.Header.Get("User-Agent")
		got.encoding = r.Header.Get("Content-Encoding")

		var reader io.Reader = r.Body
		if got.encoding == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				t.Errorf("gzip reader: %v", err)
				return
			}
			defer zr.Close()
			reader = zr
		}
		if err := json.NewDecoder(reader).Decode(&got.body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSession_ReportState(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, `{}`, &got)

	client := New(Config{Endpoint: srv.URL + "/", UserAgent: "homesync-test"}, nil)
	err := client.Session("tok", "home").ReportState(context.Background(), "light-1", map[string]any{"on": true})
	if err != nil {
		t.Fatalf("ReportState() error = %v", err)
	}

	if got.method != http.MethodPost || got.path != PathUpdateState {
		t.Errorf("request = %s %s, want POST %s", got.method, got.path, PathUpdateState)
	}
	if got.query != "group=home&id=light-1" {
		t.Errorf("query = %q, want group=home&id=light-1", got.query)
	}
	if got.auth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", got.auth)
	}
	if got.agent != "homesync-test" {
		t.Errorf("User-Agent = %q, want homesync-test", got.agent)
	}
	if got.body["on"] != true {
		t.Errorf("body = %v, want on=true", got.body)
	}
}

func TestSession_SyncCompressed(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, ``, &got)

	client := New(Config{Endpoint: srv.URL, Compress: true}, nil)
	devices := []map[string]any{{"id": "light-1"}}
	if err := client.Session("tok", "home").Sync(context.Background(), devices); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if got.encoding != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", got.encoding)
	}
	list, ok := got.body["devices"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("body = %v, want one device", got.body)
	}
	if got.agent != DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", got.agent, DefaultUserAgent)
	}
}

func TestPost_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		code      string
	}{
		{"service unavailable", http.StatusServiceUnavailable, ``, true, ""},
		{"too many requests", http.StatusTooManyRequests, `{"error":"slow-down"}`, true, "slow-down"},
		{"not found", http.StatusNotFound, ``, false, ""},
		{"bad request with code", http.StatusBadRequest, `{"error":"invalid-payload"}`, false, "invalid-payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := newServer(t, tt.status, tt.body, &got)

			err := New(Config{Endpoint: srv.URL}, nil).Session("tok", "").Notify(context.Background(), map[string]any{"title": "x"})

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("error = %v, want *HTTPError", err)
			}
			if httpErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", httpErr.Status, tt.status)
			}
			if httpErr.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", httpErr.Retryable(), tt.retryable)
			}
			if httpErr.Terminal() == tt.retryable {
				t.Errorf("Terminal() = %v, want %v", httpErr.Terminal(), !tt.retryable)
			}
			if ErrorCode(err) != tt.code {
				t.Errorf("ErrorCode() = %q, want %q", ErrorCode(err), tt.code)
			}
			if got.query != "" {
				t.Errorf("query = %q, want empty without group", got.query)
			}
		})
	}
}

func TestClient_Login(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		want     string
		code     string
	}{
		{"token", http.StatusOK, `{"token":"session"}`, "session", ""},
		{"error body", http.StatusOK, `{"error":"invalid-credentials"}`, "", "invalid-credentials"},
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid-credentials"}`, "", "invalid-credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := newServer(t, tt.status, tt.response, &got)

			token, err := New(Config{Endpoint: srv.URL}, nil).Login(context.Background(), "a@b.c", "pw")
			if token != tt.want {
				t.Errorf("token = %q, want %q", token, tt.want)
			}
			if ErrorCode(err) != tt.code {
				t.Errorf("ErrorCode(%v) = %q, want %q", err, ErrorCode(err), tt.code)
			}
			if got.path != PathLogin || got.auth != "" {
				t.Errorf("request = %s auth=%q, want %s without auth", got.path, got.auth, PathLogin)
			}
			if got.body["email"] != "a@b.c" {
				t.Errorf("body = %v, want email", got.body)
			}
		})
	}
}

func TestClient_ExchangeSSO(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, `{"token":"session"}`, &got)

	token, err := New(Config{Endpoint: srv.URL}, nil).ExchangeSSO(context.Background(), "external")
	if err != nil {
		t.Fatalf("ExchangeSSO() error = %v", err)
	}
	if token != "session" || got.path != PathSSO || got.body["token"] != "external" {
		t.Errorf("token=%q path=%s body=%v", token, got.path, got.body)
	}
}

func TestPost_RequestErrorsNotRetryable(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		path     string
		body     any
		wantErr  error
	}{
		{name: "no endpoint", path: PathSync, wantErr: ErrNoEndpoint},
		{name: "unencodable body", endpoint: "http://127.0.0.1:1", path: PathSync, body: map[string]any{"c": make(chan int)}},
		{name: "invalid url", endpoint: "http://127.0.0.1:1", path: "/\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(Config{Endpoint: tt.endpoint}, nil).Post(context.Background(), tt.path, nil, "", tt.body, nil)
			if err == nil {
				t.Fatal("Post() error = nil")
			}
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("error = %T %v, want *RequestError", err, err)
			}
			var r interface{ Retryable() bool }
			if !errors.As(err, &r) || r.Retryable() {
				t.Errorf("error %v is retryable, want not retryable", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
