package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-homesync/internal/auth"
	"github.com/nerrad567/gray-logic-homesync/internal/backend"
	"github.com/nerrad567/gray-logic-homesync/internal/device"
	"github.com/nerrad567/gray-logic-homesync/internal/queue"
	"github.com/nerrad567/gray-logic-homesync/internal/store"
)

// Connection is an authenticated session for one (user, group) namespace.
//
// It owns the outbound job queue and the directory of devices that sync jobs
// publish.
//
// Thread Safety: All methods are safe for concurrent use.
type Connection struct {
	session auth.Session
	group   string
	api     *backend.Session
	store   store.Store
	queue   *queue.Queue
	devices *device.Registry
	logger  Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(session auth.Session, group string, client *backend.Client, st store.Store, qcfg queue.Config, logger Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		session: session,
		group:   group,
		api:     client.Session(session.Token, group),
		store:   st,
		devices: device.NewRegistry(),
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.queue = queue.New(qcfg, c.handle)
	c.queue.SetLogger(logger)
	c.devices.SetLogger(logger)

	go func() {
		defer close(c.done)
		_ = c.queue.Run(ctx)
	}()
	return c
}

// UID returns the authenticated user ID.
func (c *Connection) UID() string { return c.session.UID }

// Group returns the device group.
func (c *Connection) Group() string { return c.group }

// Session returns the backend session.
func (c *Connection) Session() auth.Session { return c.session }

// Store returns the remote real-time store.
func (c *Connection) Store() store.Store { return c.store }

// Queue returns the outbound job queue.
func (c *Connection) Queue() *queue.Queue { return c.queue }

// StatePath returns the remote state path of a device.
func (c *Connection) StatePath(deviceID string) string {
	return store.StatePath(c.session.UID, c.group, deviceID)
}

// NoraPath returns the side-channel path of a device.
func (c *Connection) NoraPath(deviceID string) string {
	return store.NoraPath(c.session.UID, c.group, deviceID)
}

// AddDevice adds a cell to the directory published by sync jobs.
func (c *Connection) AddDevice(cell *device.Cell) error {
	return c.devices.Add(cell)
}

// RemoveDevice removes a cell from the directory.
func (c *Connection) RemoveDevice(cell *device.Cell) bool {
	return c.devices.Remove(cell)
}

// Devices returns a snapshot of the directory.
func (c *Connection) Devices() []*device.Device {
	return c.devices.Devices()
}

// Sync enqueues a full directory sync.
func (c *Connection) Sync() *queue.Ticket {
	return c.queue.Enqueue(queue.Job{Kind: queue.KindSync})
}

// ReportState enqueues a report-state job. It implements device.Reporter.
func (c *Connection) ReportState(deviceID string, patch device.State) {
	c.queue.Enqueue(queue.Job{Kind: queue.KindReportState, DeviceID: deviceID, Payload: patch})
}

// Notify enqueues a notification.
func (c *Connection) Notify(payload map[string]any) *queue.Ticket {
	return c.queue.Enqueue(queue.Job{Kind: queue.KindNotify, Payload: payload})
}

// handle performs one attempt of a job against the backend.
func (c *Connection) handle(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindSync:
		return c.api.Sync(ctx, c.devices.Devices())
	case queue.KindReportState:
		return c.api.ReportState(ctx, job.DeviceID, job.Payload)
	case queue.KindNotify:
		return c.api.Notify(ctx, job.Payload)
	default:
		return terminalError{fmt.Errorf("%w: %s", ErrUnknownJob, job.Kind)}
	}
}

// terminalError marks an error the queue must not retry.
type terminalError struct{ error }

func (terminalError) Retryable() bool { return false }

func (e terminalError) Unwrap() error { return e.error }

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close stops the queue. Pending jobs fail with queue.ErrClosed.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.logger.Info("connection closed", "uid", c.session.UID, "group", c.group)
	})
}
