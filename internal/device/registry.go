package device

import (
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is a directory of device cells keyed by device ID.
//
// A Connection keeps one to build the full device list pushed by sync jobs.
//
// All public methods are thread-safe.
type Registry struct {
	cells  map[string]*Cell
	mu     sync.RWMutex
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		cells:  make(map[string]*Cell),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Add registers a cell.
// Returns ErrDeviceExists if another cell uses the same ID.
func (r *Registry) Add(c *Cell) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.cells[c.ID()]; ok && existing != c {
		return fmt.Errorf("%w: %s", ErrDeviceExists, c.ID())
	}
	r.cells[c.ID()] = c
	r.logger.Debug("device registered", "device_id", c.ID(), "count", len(r.cells))
	return nil
}

// Remove unregisters the cell with the given ID if it is c.
// It reports whether anything was removed.
func (r *Registry) Remove(c *Cell) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.cells[c.ID()]; !ok || existing != c {
		return false
	}
	delete(r.cells, c.ID())
	r.logger.Debug("device unregistered", "device_id", c.ID(), "count", len(r.cells))
	return true
}

// Get retrieves a cell by device ID.
// Returns ErrDeviceNotFound if the device is not registered.
func (r *Registry) Get(id string) (*Cell, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cells[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return c, nil
}

// Devices returns copies of all registered devices ordered by ID.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	cells := make([]*Cell, 0, len(r.cells))
	for _, c := range r.cells {
		cells = append(cells, c)
	}
	r.mu.RUnlock()

	devices := make([]*Device, 0, len(cells))
	for _, c := range cells {
		devices = append(devices, c.Device())
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cells)
}
