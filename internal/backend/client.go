package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Default client settings.
const (
	DefaultUserAgent = "homesync"
	DefaultTimeout   = 15 * time.Second

	maxErrorBody = 64 << 10
)

// Config holds backend client settings.
type Config struct {
	Endpoint  string
	UserAgent string
	Compress  bool
	Timeout   time.Duration
}

// Client sends requests to the backend API.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	endpoint  string
	userAgent string
	compress  bool
	http      *http.Client
}

// New creates a client. A nil httpClient selects one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		userAgent: cfg.UserAgent,
		compress:  cfg.Compress,
		http:      httpClient,
	}
}

// Post sends body as JSON to path and decodes a JSON response into out.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - path: API path starting with "/"
//   - query: Extra query parameters (may be nil)
//   - token: Bearer token; empty for unauthenticated endpoints
//   - body: Value to encode as the request body
//   - out: Destination for the response body; nil discards it
//
// Returns:
//   - error: *HTTPError for non-2xx responses, otherwise transport or encoding errors
func (c *Client) Post(ctx context.Context, path string, query url.Values, token string, body, out any) error {
	if c.endpoint == "" {
		return &RequestError{Path: path, Err: ErrNoEndpoint}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return &RequestError{Path: path, Err: fmt.Errorf("encoding body: %w", err)}
	}

	var reader io.Reader = bytes.NewReader(payload)
	if c.compress {
		compressed, err := gzipBytes(payload)
		if err != nil {
			return &RequestError{Path: path, Err: fmt.Errorf("compressing body: %w", err)}
		}
		reader = bytes.NewReader(compressed)
	}

	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, reader)
	if err != nil {
		return &RequestError{Path: path, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, path)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response, path string) error {
	httpErr := &HTTPError{Status: resp.StatusCode, Path: path}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil {
		httpErr.Code = body.Error
	}
	return httpErr
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
