package store

import (
	"context"
	"errors"
	"strings"
)

// Listener receives the JSON value at a path. A nil value means the path is
// absent.
type Listener func(value []byte)

// Store is the remote real-time store contract.
//
// Subscribe and OnConnectionChange replay the current value to the new
// listener. Listeners must not block.
type Store interface {
	// Set writes value, encoded as JSON, at path.
	Set(ctx context.Context, path string, value any) error
	// Delete removes the value at path.
	Delete(ctx context.Context, path string) error
	// Subscribe calls fn with the value at path now and on every change.
	Subscribe(path string, fn Listener) (cancel func(), err error)
	// Connected reports the current connection state.
	Connected() bool
	// OnConnectionChange calls fn with the connection state now and on every change.
	OnConnectionChange(fn func(connected bool)) (cancel func())
	// OnDisconnectSet arms a write the store performs once this client disconnects.
	OnDisconnectSet(ctx context.Context, path string, value any) error
	// CancelOnDisconnect disarms a write armed with OnDisconnectSet.
	CancelOnDisconnect(ctx context.Context, path string) error
}

// Sentinel errors for store operations.
var (
	ErrInvalidPath = errors.New("store: invalid path")
	ErrClosed      = errors.New("store: closed")
)

// Path prefixes.
const (
	StatesRoot = "device_states"
	NoraRoot   = "device_nora"
)

// StatePath returns the remote state path of a device.
func StatePath(uid, group, deviceID string) string {
	return Join(StatesRoot, uid, group, deviceID)
}

// NoraPath returns the side-channel path of a device.
func NoraPath(uid, group, deviceID string) string {
	return Join(NoraRoot, uid, group, deviceID)
}

// Join joins path segments with "/". Empty segments are kept so that an empty
// group still yields a distinct level.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// validPath rejects empty paths and MQTT wildcard characters.
func validPath(path string) error {
	if path == "" || strings.ContainsAny(path, "#+") {
		return ErrInvalidPath
	}
	return nil
}

// Logger defines the logging interface used by store implementations.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
