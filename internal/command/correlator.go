package command

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultTimeout is how long a waiter blocks before resolving with a
// synthetic failure.
const DefaultTimeout = time.Second

// Response is the outcome of an asynchronous command.
// Exactly one of ErrorCode or State is normally set.
type Response struct {
	CommandID string         `json:"commandId"`
	ErrorCode string         `json:"errorCode,omitempty"`
	State     map[string]any `json:"state,omitempty"`
}

// Failed reports whether the response carries an error code.
func (r Response) Failed() bool {
	return r.ErrorCode != ""
}

// Correlator matches dispatched command IDs to delivered responses.
//
// Thread Safety: All methods are safe for concurrent use.
type Correlator struct {
	timeout time.Duration
	waiters *xsync.MapOf[string, chan Response]
	seq     atomic.Uint64
	now     func() time.Time
}

// NewCorrelator creates a correlator. A non-positive timeout selects DefaultTimeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		timeout: timeout,
		waiters: xsync.NewMapOf[string, chan Response](),
		now:     time.Now,
	}
}

// Waiter is a one-shot handle on a dispatched command.
type Waiter struct {
	id      string
	ch      chan Response
	owner   *Correlator
	timeout time.Duration
}

// ID returns the command ID the waiter is registered under.
func (w *Waiter) ID() string {
	return w.id
}

// Wait blocks until a response is delivered, the timeout elapses, or ctx is
// done. Timeouts resolve with ErrorCodeNotResponding rather than an error;
// only context cancellation returns an error.
func (w *Waiter) Wait(ctx context.Context) (Response, error) {
	defer w.owner.waiters.Delete(w.id)

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case resp := <-w.ch:
		return resp, nil
	case <-timer.C:
		return Response{CommandID: w.id, ErrorCode: ErrorCodeNotResponding}, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("waiting for command %s: %w", w.id, ctx.Err())
	}
}

// Dispatch registers a new command for deviceID and returns its waiter.
//
// IDs combine the device ID, a millisecond timestamp and a sequence number,
// so two dispatches in the same millisecond never collide.
func (c *Correlator) Dispatch(deviceID string) *Waiter {
	id := fmt.Sprintf("%s-%d-%d", deviceID, c.now().UnixMilli(), c.seq.Add(1))
	ch := make(chan Response, 1)
	c.waiters.Store(id, ch)
	return &Waiter{id: id, ch: ch, owner: c, timeout: c.timeout}
}

// Deliver resolves the waiter registered under commandID.
// It returns false if no waiter is pending; late or duplicate responses are dropped.
func (c *Correlator) Deliver(commandID string, resp Response) bool {
	ch, ok := c.waiters.LoadAndDelete(commandID)
	if !ok {
		return false
	}
	resp.CommandID = commandID
	ch <- resp
	return true
}

// Cancel forgets a pending command without resolving it.
func (c *Correlator) Cancel(commandID string) error {
	if _, ok := c.waiters.LoadAndDelete(commandID); !ok {
		return ErrUnknownCommand
	}
	return nil
}

// Pending returns the number of commands awaiting a response.
func (c *Correlator) Pending() int {
	return c.waiters.Size()
}
