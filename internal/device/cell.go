package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-homesync/internal/command"
	"github.com/nerrad567/gray-logic-homesync/internal/merge"
)

// Status is the attachment status of a Cell.
type Status int

// Cell statuses.
const (
	// StatusDetached means no remote subscription exists.
	StatusDetached Status = iota
	// StatusAttached means the remote change stream is subscribed.
	StatusAttached
	// StatusSynced means presence is armed and outbound reports are permitted.
	StatusSynced
)

func (s Status) String() string {
	switch s {
	case StatusDetached:
		return "detached"
	case StatusAttached:
		return "attached"
	case StatusSynced:
		return "synced"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ValidationMode selects how much of a state the validator should require.
type ValidationMode int

const (
	// ValidateFull checks a complete device state.
	ValidateFull ValidationMode = iota
	// ValidateUpdate checks a partial state update.
	ValidateUpdate
)

// Validator reports whether state is legal for the device in the given mode.
type Validator func(mode ValidationMode, state State) bool

// CommandFunc computes the state patch for a command.
// It returns a *CommandError for domain-level rejections.
type CommandFunc func(d *Device, command string, params map[string]any) (State, error)

// AsyncIssuer writes an asynchronous command record where the remote
// responder will see it. The returned retract removes the record; the cell
// calls it once the command has resolved, timed out or been cancelled. On
// error the issuer cleans up itself and retract may be nil.
type AsyncIssuer func(ctx context.Context, deviceID, commandID, command string, params map[string]any) (retract func(), err error)

// Reporter receives accepted patches while the cell is synced.
// Implementations must not block.
type Reporter interface {
	ReportState(deviceID string, patch State)
}

// Source identifies how a committed state change originated.
type Source string

// Commit sources.
const (
	SourceLocal   Source = "local"
	SourceCommand Source = "command"
	SourceAsync   Source = "async"
	SourceRemote  Source = "remote"
)

// Commit describes one accepted state change.
type Commit struct {
	DeviceID  string
	State     State
	Patch     State
	Source    Source
	Timestamp time.Time
}

// UpdateKind tags entries on the local update stream.
type UpdateKind string

// Update kinds.
const (
	UpdateKindState   UpdateKind = "state"
	UpdateKindCommand UpdateKind = "command"
)

// Update is an entry on the local update stream.
type Update struct {
	DeviceID string         `json:"deviceId"`
	Kind     UpdateKind     `json:"kind"`
	State    State          `json:"state,omitempty"`
	Command  string         `json:"command,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

const updateBuffer = 32

// Cell holds the in-memory state of one device and bridges local commands
// with remote change notifications.
//
// State mutations are totally ordered per cell. Observers and update
// subscribers are notified in commit order, outside the state lock, so they
// may read the cell but must not block for long.
//
// Thread Safety: All methods are safe for concurrent use.
type Cell struct {
	mu         sync.Mutex
	dev        *Device
	status     Status
	lastRemote int64
	route      Route

	validate  Validator
	execute   CommandFunc
	mergeOpts merge.Options

	correlator *command.Correlator
	issue      AsyncIssuer
	reporter   Reporter

	// logger is written under mu and emitMu, so either lock covers reads.
	logger Logger

	// emitMu serialises notification so observers see commits in order.
	emitMu    sync.Mutex
	observers map[int]func(Commit)
	subs      map[int]chan Update
	nextID    int
}

// NewCell creates a detached cell for d.
//
// The cell keeps its own copy of d. A nil validate accepts every state; a nil
// execute makes plain commands fail with ErrNoCommandFunc.
func NewCell(d *Device, validate Validator, execute CommandFunc) *Cell {
	dev := d.DeepCopy()
	if dev.State == nil {
		dev.State = State{}
	}
	if dev.NoraSpecific == nil {
		dev.NoraSpecific = NoraSpecific{}
	}
	if validate == nil {
		validate = func(ValidationMode, State) bool { return true }
	}
	return &Cell{
		dev:       dev,
		route:     RouteFor(dev.Traits),
		validate:  validate,
		execute:   execute,
		mergeOpts: merge.DefaultOptions(),
		logger:    noopLogger{},
		observers: make(map[int]func(Commit)),
		subs:      make(map[int]chan Update),
	}
}

// SetLogger sets the logger for the cell.
func (c *Cell) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.logger = logger
}

// SetMergeOptions replaces the merge options used for updates.
func (c *Cell) SetMergeOptions(opts merge.Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeOpts = opts
}

// SetReporter installs the sink for accepted patches.
func (c *Cell) SetReporter(r Reporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reporter = r
}

// SetAsync configures asynchronous command execution.
func (c *Cell) SetAsync(correlator *command.Correlator, issue AsyncIssuer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.correlator = correlator
	c.issue = issue
}

// ID returns the device ID.
func (c *Cell) ID() string {
	return c.dev.ID
}

// Route returns the command routing strategy of the cell.
func (c *Cell) Route() Route {
	return c.route
}

// Status returns the current status.
func (c *Cell) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attach marks the remote change stream as subscribed.
func (c *Cell) Attach() {
	c.setStatus(StatusAttached)
}

// MarkSynced marks presence as armed. Outbound reports start flowing.
func (c *Cell) MarkSynced() {
	c.setStatus(StatusSynced)
}

// MarkUnsynced drops back to attached, e.g. when the store disconnects.
func (c *Cell) MarkUnsynced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusSynced {
		c.status = StatusAttached
	}
}

// Detach marks the remote subscription as gone.
func (c *Cell) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusDetached
	c.lastRemote = 0
}

func (c *Cell) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != s {
		c.logger.Debug("device status changed", "device_id", c.dev.ID, "from", c.status.String(), "to", s.String())
	}
	c.status = s
}

// State returns a copy of the committed state.
func (c *Cell) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.State.Clone()
}

// Device returns a copy of the device.
func (c *Cell) Device() *Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.DeepCopy()
}

// SetNoraSpecific sets a side-channel field. A nil value removes it.
func (c *Cell) SetNoraSpecific(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == nil {
		delete(c.dev.NoraSpecific, key)
		return
	}
	c.dev.NoraSpecific[key] = value
}

// UpdateState merges partial into the committed state.
//
// The merged next state must pass full validation or the whole update is
// discarded. A report is sent only while synced. It returns whether any
// change was committed.
func (c *Cell) UpdateState(partial State, mapping ...merge.Rename) bool {
	return c.apply(partial, mapping, SourceLocal)
}

func (c *Cell) apply(partial State, mapping []merge.Rename, source Source) bool {
	c.mu.Lock()

	id := c.dev.ID
	logger := c.logger
	opts := c.mergeOpts.WithMapping(mapping).WithWarn(func(msg string) {
		logger.Warn("state update field rejected", "device_id", id, "reason", msg)
	})
	partialValid := func(candidate map[string]any) bool {
		return c.validate(ValidateUpdate, State(candidate))
	}

	diff := merge.SafeUpdate(partial, c.dev.State, partialValid, opts)
	if len(diff) == 0 {
		c.mu.Unlock()
		return false
	}

	next := State(merge.Apply(c.dev.State, diff, opts))
	if !c.validate(ValidateFull, next) {
		c.mu.Unlock()
		logger.Warn("state update discarded", "device_id", id, "error", ErrInvalidState)
		return false
	}
	c.dev.State = next

	commit := Commit{
		DeviceID:  id,
		State:     next.Clone(),
		Patch:     State(diff),
		Source:    source,
		Timestamp: time.Now(),
	}
	var reporter Reporter
	if c.status == StatusSynced {
		reporter = c.reporter
	}

	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	if reporter != nil {
		reporter.ReportState(id, commit.Patch.Clone())
	}
	c.notify(commit)
	return true
}

// HandleRemote applies a record read from the remote state path.
//
// Records written by this process (origin client) are ignored, as are
// records that arrive before the cell is synced or that are not newer than
// the last applied one. Accepted records replace the state without diffing.
func (c *Cell) HandleRemote(u RemoteUpdate) bool {
	if u.Origin == OriginClient || u.State == nil {
		return false
	}

	c.mu.Lock()
	if c.status != StatusSynced || u.Timestamp <= c.lastRemote {
		c.mu.Unlock()
		return false
	}
	c.lastRemote = u.Timestamp
	c.dev.State = u.State.Clone()

	commit := Commit{
		DeviceID:  c.dev.ID,
		State:     c.dev.State.Clone(),
		Patch:     c.dev.State.Clone(),
		Source:    SourceRemote,
		Timestamp: time.Now(),
	}

	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	c.notify(commit)
	return true
}

// ExecuteCommand runs a command against the device and returns the resulting
// committed state.
//
// Devices configured for asynchronous execution issue a command record and
// wait for the remote response. Everything else goes through the cell's
// routing strategy.
func (c *Cell) ExecuteCommand(ctx context.Context, cmd string, params map[string]any) (State, error) {
	dev := c.Device()
	if dev.NoraSpecific.AsyncCommandExecution() {
		return c.executeAsync(ctx, dev, cmd, params)
	}
	return routes[c.route](c, dev, cmd, params)
}

func (c *Cell) executeAsync(ctx context.Context, dev *Device, cmd string, params map[string]any) (State, error) {
	c.mu.Lock()
	correlator, issue := c.correlator, c.issue
	c.mu.Unlock()

	if correlator == nil || issue == nil {
		return nil, ErrNoAsyncIssuer
	}

	w := correlator.Dispatch(dev.ID)
	retract, err := issue(ctx, dev.ID, w.ID(), cmd, params)
	if err != nil {
		_ = correlator.Cancel(w.ID())
		return nil, fmt.Errorf("issuing command %s: %w", w.ID(), err)
	}
	if retract != nil {
		defer retract()
	}

	resp, err := w.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, NewCommandError(resp.ErrorCode)
	}
	if len(resp.State) > 0 {
		c.apply(State(resp.State), nil, SourceAsync)
	}
	return c.State(), nil
}

// OnCommit registers fn to be called after every committed change.
// The returned function unregisters it.
func (c *Cell) OnCommit(fn func(Commit)) func() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	return func() {
		c.emitMu.Lock()
		defer c.emitMu.Unlock()
		delete(c.observers, id)
	}
}

// Updates subscribes to the local update stream.
//
// Entries are dropped for subscribers that fall behind. The returned
// function cancels the subscription and closes the channel.
func (c *Cell) Updates() (<-chan Update, func()) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan Update, updateBuffer)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.emitMu.Lock()
			defer c.emitMu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// notify must be called with emitMu held.
func (c *Cell) notify(commit Commit) {
	for _, fn := range c.observers {
		fn(commit)
	}
	c.publish(Update{DeviceID: commit.DeviceID, Kind: UpdateKindState, State: commit.Patch})
}

// publish must be called with emitMu held.
func (c *Cell) publish(u Update) {
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			c.logger.Debug("local update dropped", "device_id", u.DeviceID)
		}
	}
}

// emitCommand publishes a command event on the local update stream.
func (c *Cell) emitCommand(cmd string, params map[string]any) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.publish(Update{
		DeviceID: c.dev.ID,
		Kind:     UpdateKindCommand,
		Command:  cmd,
		Params:   merge.Clone(params),
	})
}
