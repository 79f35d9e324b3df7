package queue

import "errors"

var (
	// ErrRateLimited is returned for notify jobs enqueued over the lane quota.
	ErrRateLimited = errors.New("queue: rate limit exceeded")

	// ErrClosed is returned for jobs enqueued after Close or still pending when the queue closes.
	ErrClosed = errors.New("queue: closed")
)

// Retryable reports whether err is worth another attempt.
//
// Errors that implement Retryable() bool decide for themselves; anything
// else (network failures, timeouts) is treated as transient.
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
