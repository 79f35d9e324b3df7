package command

import "errors"

// ErrorCodeNotResponding is the error code of the synthetic response produced
// when no response arrives before the timeout.
const ErrorCodeNotResponding = "deviceNotResponding"

// ErrUnknownCommand is returned by Cancel when the command ID is not pending.
var ErrUnknownCommand = errors.New("command: unknown command id")
