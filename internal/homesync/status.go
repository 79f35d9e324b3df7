package homesync

import "fmt"

// StatusFunc receives warnings and errors as (level, message) pairs, the form
// host status displays consume. Level is "warn" or "error".
type StatusFunc func(level, message string)

// statusLogger tees Warn and Error records to a StatusFunc.
type statusLogger struct {
	Logger
	status StatusFunc
}

func (l statusLogger) Warn(msg string, args ...any) {
	l.Logger.Warn(msg, args...)
	l.status("warn", describe(msg, args))
}

func (l statusLogger) Error(msg string, args ...any) {
	l.Logger.Error(msg, args...)
	l.status("error", describe(msg, args))
}

// describe appends the reason and error attributes to msg.
func describe(msg string, args []any) string {
	for i := 0; i+1 < len(args); i += 2 {
		switch args[i] {
		case "reason", "error":
			msg += fmt.Sprintf(" %s=%v", args[i], args[i+1])
		}
	}
	return msg
}
