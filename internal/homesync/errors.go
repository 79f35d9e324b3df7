package homesync

import "errors"

var (
	// ErrNotConnected is returned when an operation needs the connection
	// before it is established.
	ErrNotConnected = errors.New("homesync: not connected")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("homesync: handle closed")

	// ErrNoManager is returned by Open without a connection manager.
	ErrNoManager = errors.New("homesync: connection manager is required")
)
