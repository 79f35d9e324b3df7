package localexec

import "errors"

var (
	// ErrNoMagicPacket is returned when discovery is configured without a magic packet.
	ErrNoMagicPacket = errors.New("localexec: magic packet is empty")

	// ErrClosed is returned when registering with a closed service.
	ErrClosed = errors.New("localexec: service closed")
)
