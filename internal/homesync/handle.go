package homesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-homesync/internal/auth"
	"github.com/nerrad567/gray-logic-homesync/internal/command"
	"github.com/nerrad567/gray-logic-homesync/internal/connection"
	"github.com/nerrad567/gray-logic-homesync/internal/device"
	"github.com/nerrad567/gray-logic-homesync/internal/localexec"
	"github.com/nerrad567/gray-logic-homesync/internal/merge"
	"github.com/nerrad567/gray-logic-homesync/internal/store"
)

// Side-channel sub-paths under a device's nora path.
const (
	PathOnline    = "online"
	PathCommands  = "commands"
	PathResponses = "responses"
)

// storeTimeout bounds store writes made while tearing down.
const storeTimeout = 5 * time.Second

// Logger defines the logging interface used by the homesync package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Handle.
type Options struct {
	Device      *device.Device
	Manager     *connection.Manager
	Credentials auth.Credentials
	Group       string

	// Validator checks candidate states. Nil accepts everything.
	Validator device.Validator
	// Execute computes command patches. Nil makes plain commands fail.
	Execute device.CommandFunc
	// MergeOptions overrides the cell's merge settings when set.
	MergeOptions *merge.Options
	// AsyncTimeout bounds asynchronous command waits.
	AsyncTimeout time.Duration

	// Local registers eligible devices for LAN execution. Optional.
	Local *localexec.Service
	// Observers receive every committed change (history, telemetry).
	Observers []func(device.Commit)
	Logger    Logger
	// Status also receives every warning and error. Optional.
	Status StatusFunc
}

// Handle binds one device cell to its connection, the remote store and the
// local execution service.
//
// Thread Safety: All methods are safe for concurrent use.
type Handle struct {
	cell       *device.Cell
	ref        *connection.Ref
	local      *localexec.Service
	correlator *command.Correlator
	logger     Logger

	cancel context.CancelFunc
	done   chan struct{}
	ready  chan struct{}

	mu        sync.Mutex
	conn      *connection.Connection
	err       error
	readyOnce sync.Once
	closeOnce sync.Once
	unobserve []func()

	// wake signals the event loop; the fields below hold the latest values.
	wake       chan struct{}
	sigMu      sync.Mutex
	connGen    uint64
	connected  bool
	mirrorNext device.State
}

// Open validates the device, acquires its connection and starts the event
// loop. It does not wait for authentication; see Ready.
func Open(opts Options) (*Handle, error) {
	if opts.Manager == nil {
		return nil, ErrNoManager
	}
	if err := device.ValidateDevice(opts.Device); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.Status != nil {
		logger = statusLogger{Logger: logger, status: opts.Status}
	}

	cell := device.NewCell(opts.Device, opts.Validator, opts.Execute)
	cell.SetLogger(logger)
	if opts.MergeOptions != nil {
		cell.SetMergeOptions(*opts.MergeOptions)
	}

	h := &Handle{
		cell:       cell,
		local:      opts.Local,
		correlator: command.NewCorrelator(opts.AsyncTimeout),
		logger:     logger,
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
	cell.SetAsync(h.correlator, h.issue)

	for _, fn := range opts.Observers {
		h.unobserve = append(h.unobserve, cell.OnCommit(fn))
	}
	h.unobserve = append(h.unobserve, cell.OnCommit(h.mirror))

	if h.local != nil {
		if ok, err := h.local.Register(cell); err != nil {
			logger.Warn("local execution unavailable", "device_id", cell.ID(), "error", err)
		} else if ok {
			logger.Debug("device registered for local execution", "device_id", cell.ID())
		}
	}

	h.ref = opts.Manager.Acquire(opts.Credentials, opts.Group)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.run(ctx)
	return h, nil
}

// Cell returns the device state cell.
func (h *Handle) Cell() *device.Cell {
	return h.cell
}

// ID returns the device ID.
func (h *Handle) ID() string {
	return h.cell.ID()
}

// State returns a copy of the committed state.
func (h *Handle) State() device.State {
	return h.cell.State()
}

// UpdateState applies a locally originated partial update.
func (h *Handle) UpdateState(partial device.State, mapping ...merge.Rename) bool {
	return h.cell.UpdateState(partial, mapping...)
}

// ExecuteCommand runs a command through the cell.
func (h *Handle) ExecuteCommand(ctx context.Context, cmd string, params map[string]any) (device.State, error) {
	return h.cell.ExecuteCommand(ctx, cmd, params)
}

// Ready blocks until the device has been synced once, authentication has
// failed terminally, the handle is closed, or ctx is done.
func (h *Handle) Ready(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.err != nil {
			return h.err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify enqueues a notification and waits for its outcome.
func (h *Handle) Notify(ctx context.Context, payload map[string]any) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Notify(payload).Wait(ctx)
}

// Close tears down subscriptions, presence, the local registration, the
// directory entry and the connection reference.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		<-h.done
		if h.local != nil {
			h.local.Unregister(h.cell)
		}
		for _, fn := range h.unobserve {
			fn()
		}
		h.ref.Release()
		h.logger.Debug("device handle closed", "device_id", h.cell.ID())
	})
}

// run is the handle's event loop. It owns every store interaction.
func (h *Handle) run(ctx context.Context) {
	defer close(h.done)

	conn, err := h.ref.Wait(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Error("device connection failed", "device_id", h.cell.ID(), "error", err)
		}
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	cancelSubs, err := h.attach(conn)
	if err != nil {
		h.logger.Error("subscribing device", "device_id", h.cell.ID(), "error", err)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		h.detach(conn, cancelSubs)
		return
	}
	defer h.detach(conn, cancelSubs)

	var handledGen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
		}

		h.sigMu.Lock()
		gen, connected, next := h.connGen, h.connected, h.mirrorNext
		h.mirrorNext = nil
		h.sigMu.Unlock()

		if gen != handledGen {
			handledGen = gen
			if connected {
				// arm publishes the current state, which supersedes next.
				h.arm(ctx, conn)
				next = nil
			} else {
				h.cell.MarkUnsynced()
				h.logger.Debug("device unsynced", "device_id", h.cell.ID())
			}
		}
		if next != nil && h.cell.Status() == device.StatusSynced {
			h.writeState(ctx, conn, next)
		}
	}
}

// attach subscribes to the remote paths and joins the directory.
func (h *Handle) attach(conn *connection.Connection) ([]func(), error) {
	st := conn.Store()
	id := h.cell.ID()
	var cancels []func()

	h.cell.SetReporter(conn)
	if err := conn.AddDevice(h.cell); err != nil {
		return cancels, fmt.Errorf("adding %s to directory: %w", id, err)
	}

	cancel, err := st.Subscribe(conn.StatePath(id), h.onRemoteState)
	if err != nil {
		return cancels, fmt.Errorf("subscribing to state of %s: %w", id, err)
	}
	cancels = append(cancels, cancel)

	responses := store.Join(conn.NoraPath(id), PathResponses)
	cancel, err = st.Subscribe(responses, func(value []byte) {
		h.onResponse(st, responses, value)
	})
	if err != nil {
		return cancels, fmt.Errorf("subscribing to responses of %s: %w", id, err)
	}
	cancels = append(cancels, cancel)

	h.cell.Attach()
	cancels = append(cancels, st.OnConnectionChange(h.onConnectionChange))
	return cancels, nil
}

// detach undoes attach and clears presence.
func (h *Handle) detach(conn *connection.Connection, cancels []func()) {
	for i := len(cancels) - 1; i >= 0; i-- {
		cancels[i]()
	}
	h.cell.Detach()
	h.cell.SetReporter(nil)

	if conn.RemoveDevice(h.cell) && len(conn.Devices()) > 0 {
		conn.Sync()
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	st := conn.Store()
	online := store.Join(conn.NoraPath(h.cell.ID()), PathOnline)
	if err := st.CancelOnDisconnect(ctx, online); err != nil {
		h.logger.Debug("cancelling presence", "device_id", h.cell.ID(), "error", err)
	}
	if st.Connected() {
		if err := st.Set(ctx, online, false); err != nil {
			h.logger.Warn("clearing presence", "device_id", h.cell.ID(), "error", err)
		}
	}
}

// arm sets up presence, marks the cell synced, publishes the current state
// and requests a directory sync.
func (h *Handle) arm(ctx context.Context, conn *connection.Connection) {
	st := conn.Store()
	id := h.cell.ID()
	online := store.Join(conn.NoraPath(id), PathOnline)

	if err := st.OnDisconnectSet(ctx, online, false); err != nil {
		h.logger.Warn("arming presence", "device_id", id, "error", err)
		return
	}
	if err := st.Set(ctx, online, true); err != nil {
		h.logger.Warn("setting presence", "device_id", id, "error", err)
		return
	}

	h.cell.MarkSynced()
	h.writeState(ctx, conn, h.cell.State())
	conn.Sync()
	h.readyOnce.Do(func() { close(h.ready) })
	h.logger.Info("device synced", "device_id", id, "uid", conn.UID(), "group", conn.Group())
}

func (h *Handle) writeState(ctx context.Context, conn *connection.Connection, state device.State) {
	record := device.RemoteUpdate{
		State:     state,
		Origin:    device.OriginClient,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := conn.Store().Set(ctx, conn.StatePath(h.cell.ID()), record); err != nil {
		h.logger.Warn("mirroring state", "device_id", h.cell.ID(), "error", err)
	}
}

func (h *Handle) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) onConnectionChange(connected bool) {
	h.sigMu.Lock()
	h.connGen++
	h.connected = connected
	h.sigMu.Unlock()
	h.signal()
}

// mirror queues the latest locally committed state for the remote record.
func (h *Handle) mirror(c device.Commit) {
	if c.Source == device.SourceRemote {
		return
	}
	h.sigMu.Lock()
	h.mirrorNext = c.State
	h.sigMu.Unlock()
	h.signal()
}

func (h *Handle) onRemoteState(value []byte) {
	if value == nil {
		return
	}
	var u device.RemoteUpdate
	if err := json.Unmarshal(value, &u); err != nil {
		h.logger.Warn("invalid remote state record", "device_id", h.cell.ID(), "error", err)
		return
	}
	h.cell.HandleRemote(u)
}

func (h *Handle) onResponse(st store.Store, responses string, value []byte) {
	if value == nil {
		return
	}
	var resp command.Response
	if err := json.Unmarshal(value, &resp); err != nil {
		h.logger.Warn("invalid command response", "device_id", h.cell.ID(), "error", err)
		return
	}
	if !h.correlator.Deliver(resp.CommandID, resp) {
		h.logger.Debug("dropping late command response", "device_id", h.cell.ID(), "command_id", resp.CommandID)
	}
	// Listeners may run on the store's delivery goroutine; write from a fresh one.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := st.Delete(ctx, responses); err != nil {
			h.logger.Debug("clearing command response", "device_id", h.cell.ID(), "error", err)
		}
	}()
}

// issue writes an async command record for the remote responder. The
// returned retract deletes it; a failed write is retracted here.
func (h *Handle) issue(ctx context.Context, deviceID, commandID, cmd string, params map[string]any) (func(), error) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	st := conn.Store()
	path := store.Join(conn.NoraPath(deviceID), PathCommands, commandID)
	retract := func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := st.Delete(ctx, path); err != nil {
			h.logger.Debug("clearing command record", "device_id", deviceID, "command_id", commandID, "error", err)
		}
	}
	record := map[string]any{"command": cmd, "params": params}
	if err := st.Set(ctx, path, record); err != nil {
		retract()
		return nil, err
	}
	return retract, nil
}
