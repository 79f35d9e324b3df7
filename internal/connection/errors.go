package connection

import "errors"

// Sentinel errors for connection management.
var (
	ErrManagerClosed = errors.New("connection: manager closed")
	ErrReleased      = errors.New("connection: reference released")
	ErrUnknownJob    = errors.New("connection: unknown job kind")
)
