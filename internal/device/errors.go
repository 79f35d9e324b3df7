package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when adding a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidState is returned when a state fails full validation.
	ErrInvalidState = errors.New("device: invalid state")

	// ErrNoCommandFunc is returned when a synchronous command is executed
	// without a command function.
	ErrNoCommandFunc = errors.New("device: no command function")

	// ErrNoAsyncIssuer is returned when an asynchronous device has no way to
	// issue command records.
	ErrNoAsyncIssuer = errors.New("device: no async command issuer")
)

// Error codes carried by CommandError.
const (
	CodeDeviceNotFound      = "deviceNotFound"
	CodeDeviceNotReady      = "deviceNotReady"
	CodeNotSupported        = "functionNotSupported"
	CodeAlreadyInState      = "alreadyInState"
	CodeDeviceNotResponding = "deviceNotResponding"
	CodeProtocolError       = "protocolError"
)

// CommandError is a domain-level command rejection carrying an error code.
// It is distinct from transport failures.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("device: command failed: %s: %s", e.Code, e.Message)
	}
	return "device: command failed: " + e.Code
}

// NewCommandError returns a CommandError with the given code.
func NewCommandError(code string) *CommandError {
	return &CommandError{Code: code}
}

// ErrorCode extracts the code of a CommandError in err's chain.
// Other errors map to CodeProtocolError.
func ErrorCode(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}
	return CodeProtocolError
}
