package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v5"
)

// Kind is the type of a job.
type Kind string

// Job kinds.
const (
	KindSync        Kind = "sync"
	KindReportState Kind = "report-state"
	KindNotify      Kind = "notify"
)

// Job is one unit of outbound work.
type Job struct {
	Kind Kind
	// DeviceID is set for report-state jobs.
	DeviceID string
	// Payload is the state patch for report-state jobs and the notification
	// body for notify jobs. Sync jobs carry none.
	Payload map[string]any
}

func (j Job) laneKey() string {
	if j.Kind == KindReportState {
		return string(j.Kind) + ":" + j.DeviceID
	}
	return string(j.Kind)
}

// Overflow selects what happens to jobs enqueued while a lane's window is full.
type Overflow int

const (
	// OverflowMerge shallow-merges payloads into the pending job; later fields win.
	OverflowMerge Overflow = iota
	// OverflowCollapse keeps a single pending job.
	OverflowCollapse
	// OverflowReject fails the job with ErrRateLimited.
	OverflowReject
)

// Lane configures rate limiting for one job kind.
// A non-positive Limit disables limiting.
type Lane struct {
	Window   time.Duration
	Limit    int
	Overflow Overflow
}

// Config holds queue settings.
type Config struct {
	Lanes      map[Kind]Lane
	Attempts   int
	RetryDelay time.Duration
	// Metrics receives the job counters. Nil selects a private set.
	Metrics *metrics.Set
}

// DefaultConfig returns the production lane settings.
func DefaultConfig() Config {
	return Config{
		Lanes: map[Kind]Lane{
			KindReportState: {Window: time.Minute, Limit: 12, Overflow: OverflowMerge},
			KindSync:        {Window: time.Minute, Limit: 4, Overflow: OverflowCollapse},
			KindNotify:      {Window: time.Minute, Limit: 10, Overflow: OverflowReject},
		},
		Attempts:   3,
		RetryDelay: time.Second,
	}
}

// Handler performs a single attempt of a job.
// Errors implementing Retryable() bool control whether the attempt is repeated.
type Handler func(ctx context.Context, job Job) error

// Logger defines the logging interface used by the Queue.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Ticket resolves when its job has been handled, merged into a later job
// that was handled, or rejected.
type Ticket struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed once the ticket resolves.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome. Only valid after Done is closed.
func (t *Ticket) Err() error {
	return t.err
}

// Wait blocks until the ticket resolves or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type entry struct {
	job     Job
	tickets []*Ticket
}

type lane struct {
	cfg      Lane
	sent     []time.Time
	overflow *entry
	timer    *time.Timer
}

// prune drops admissions that fell out of the window.
func (l *lane) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	l.sent = l.sent[i:]
}

func (l *lane) full() bool {
	return l.cfg.Limit > 0 && len(l.sent) >= l.cfg.Limit
}

// Queue rate-limits and serialises outbound jobs.
//
// Thread Safety: Enqueue and Close are safe for concurrent use. Run must be
// called exactly once.
type Queue struct {
	cfg     Config
	handler Handler
	logger  Logger
	set     *metrics.Set

	mu     sync.Mutex
	lanes  map[string]*lane
	ready  []*entry
	wake   chan struct{}
	stop   chan struct{}
	closed bool
}

// New creates a queue that hands jobs to handler.
func New(cfg Config, handler Handler) *Queue {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	set := cfg.Metrics
	if set == nil {
		set = metrics.NewSet()
	}
	return &Queue{
		cfg:     cfg,
		handler: handler,
		logger:  noopLogger{},
		set:     set,
		lanes:   make(map[string]*lane),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// Enqueue submits a job and returns its ticket.
func (q *Queue) Enqueue(job Job) *Ticket {
	t := newTicket()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		t.resolve(ErrClosed)
		return t
	}

	key := job.laneKey()
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{cfg: q.cfg.Lanes[job.Kind]}
		q.lanes[key] = l
	}

	now := time.Now()
	l.prune(now)

	if l.overflow == nil && !l.full() {
		l.sent = append(l.sent, now)
		q.push(&entry{job: copyJob(job), tickets: []*Ticket{t}})
		return t
	}

	if l.cfg.Overflow == OverflowReject {
		q.counter("rejected", job.Kind).Inc()
		t.resolve(fmt.Errorf("%w: %s", ErrRateLimited, job.Kind))
		return t
	}

	if l.overflow == nil {
		l.overflow = &entry{job: copyJob(job), tickets: []*Ticket{t}}
		q.schedule(key, l, now)
		return t
	}

	l.overflow.job = fold(l.overflow.job, job, l.cfg.Overflow)
	l.overflow.tickets = append(l.overflow.tickets, t)
	q.counter("merged", job.Kind).Inc()
	return t
}

// schedule arms the lane timer for the moment the oldest admission leaves
// the window. Must be called with q.mu held.
func (q *Queue) schedule(key string, l *lane, now time.Time) {
	delay := l.sent[0].Add(l.cfg.Window).Sub(now)
	if delay < 0 {
		delay = 0
	}
	l.timer = time.AfterFunc(delay, func() { q.release(key) })
}

// release admits a lane's overflow job once the window has a free slot.
func (q *Queue) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[key]
	if !ok || l.overflow == nil || q.closed {
		return
	}

	now := time.Now()
	l.prune(now)
	if l.full() {
		q.schedule(key, l, now)
		return
	}

	l.sent = append(l.sent, now)
	q.push(l.overflow)
	l.overflow = nil
	l.timer = nil
}

// push appends to the ready list and wakes the worker. Must be called with q.mu held.
func (q *Queue) push(e *entry) {
	q.ready = append(q.ready, e)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) next() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, false
	}
	e := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	return e, true
}

// Run handles admitted jobs one at a time until ctx is done or the queue is
// closed. Pending jobs are failed with ErrClosed on exit.
func (q *Queue) Run(ctx context.Context) error {
	defer q.Close()
	for {
		if e, ok := q.next(); ok {
			q.handle(ctx, e)
			continue
		}
		select {
		case <-q.wake:
		case <-q.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) handle(ctx context.Context, e *entry) {
	err := q.send(ctx, e.job)
	if err != nil {
		q.counter("failed", e.job.Kind).Inc()
		q.logger.Warn("job failed", "kind", e.job.Kind, "device_id", e.job.DeviceID, "error", err)
	} else {
		q.counter("sent", e.job.Kind).Inc()
		q.logger.Debug("job sent", "kind", e.job.Kind, "device_id", e.job.DeviceID, "waiters", len(e.tickets))
	}
	for _, t := range e.tickets {
		t.resolve(err)
	}
}

// send runs the handler with up to cfg.Attempts attempts spaced by a fixed
// delay jittered by ±50%.
func (q *Queue) send(ctx context.Context, job Job) error {
	delay := &backoff.ExponentialBackOff{
		InitialInterval:     q.cfg.RetryDelay,
		RandomizationFactor: 0.5,
		Multiplier:          1,
		MaxInterval:         q.cfg.RetryDelay,
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := q.handler(ctx, job)
		if err != nil && !Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(delay),
		backoff.WithMaxTries(uint(q.cfg.Attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.logger.Warn("job attempt failed, retrying", "kind", job.Kind, "device_id", job.DeviceID, "error", err, "retry_in", next)
		}),
	)
	return err
}

// Close stops the queue. Jobs not yet handled resolve with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.stop)

	for _, e := range q.ready {
		for _, t := range e.tickets {
			t.resolve(ErrClosed)
		}
	}
	q.ready = nil

	for _, l := range q.lanes {
		if l.timer != nil {
			l.timer.Stop()
		}
		if l.overflow != nil {
			for _, t := range l.overflow.tickets {
				t.resolve(ErrClosed)
			}
			l.overflow = nil
		}
	}
}

// Pending returns the number of admitted jobs not yet handled plus pending
// overflow jobs.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.ready)
	for _, l := range q.lanes {
		if l.overflow != nil {
			n++
		}
	}
	return n
}

func (q *Queue) counter(event string, kind Kind) *metrics.Counter {
	return q.set.GetOrCreateCounter(fmt.Sprintf(`homesync_jobs_%s_total{kind=%q}`, event, kind))
}

// fold combines a pending overflow job with a newer one.
func fold(pending, next Job, policy Overflow) Job {
	if policy == OverflowCollapse {
		return copyJob(next)
	}
	out := copyJob(pending)
	if out.Payload == nil {
		out.Payload = make(map[string]any, len(next.Payload))
	}
	for k, v := range next.Payload {
		out.Payload[k] = v
	}
	return out
}

func copyJob(j Job) Job {
	if j.Payload != nil {
		payload := make(map[string]any, len(j.Payload))
		for k, v := range j.Payload {
			payload[k] = v
		}
		j.Payload = payload
	}
	return j
}
