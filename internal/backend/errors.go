package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoEndpoint is returned when the client has no endpoint configured.
var ErrNoEndpoint = errors.New("backend: endpoint not configured")

// RequestError is a failure to build a request. Sending the same
// request again fails the same way.
type RequestError struct {
	Path string
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Path, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable always reports false.
func (e *RequestError) Retryable() bool {
	return false
}

// Terminal always reports true.
func (e *RequestError) Terminal() bool {
	return true
}

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	Status int
	// Code is the "error" field of a JSON error body, if any.
	Code string
	Path string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %s: %d %s: %s", e.Path, e.Status, http.StatusText(e.Status), e.Code)
	}
	return fmt.Sprintf("backend: %s: %d %s", e.Path, e.Status, http.StatusText(e.Status))
}

// Retryable reports whether the request may succeed if repeated.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Terminal reports whether the request must not be repeated.
func (e *HTTPError) Terminal() bool {
	return !e.Retryable()
}

// ErrorCode returns the backend error code carried by err, if any.
func ErrorCode(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return ""
}
