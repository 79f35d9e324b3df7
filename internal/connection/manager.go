package connection

import (
	"context"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/gray-logic-homesync/internal/auth"
	"github.com/nerrad567/gray-logic-homesync/internal/backend"
	"github.com/nerrad567/gray-logic-homesync/internal/queue"
	"github.com/nerrad567/gray-logic-homesync/internal/store"
)

// Default manager settings.
const (
	DefaultIdleGrace    = 30 * time.Second
	DefaultAuthRetryMin = 30 * time.Second
	DefaultAuthRetryMax = 90 * time.Second
)

// Config holds connection manager settings.
type Config struct {
	IdleGrace    time.Duration
	AuthRetryMin time.Duration
	AuthRetryMax time.Duration
	Queue        queue.Config
	// Metrics receives the manager and queue counters. Nil selects a private set.
	Metrics *metrics.Set
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		IdleGrace:    DefaultIdleGrace,
		AuthRetryMin: DefaultAuthRetryMin,
		AuthRetryMax: DefaultAuthRetryMax,
		Queue:        queue.DefaultConfig(),
	}
}

// Authenticator exchanges credentials for a session.
type Authenticator func(ctx context.Context, creds auth.Credentials) (auth.Session, error)

// Logger defines the logging interface used by the connection package.
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

// entry is one cached connection and its reference count.
type entry struct {
	key    string
	group  string
	refs   int
	done   chan struct{}
	conn   *Connection
	err    error
	cancel context.CancelFunc
	idle   *time.Timer
}

// Manager caches Connections per credentials and group.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	cfg          Config
	client       *backend.Client
	store        store.Store
	authenticate Authenticator
	logger       Logger
	set          *metrics.Set

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewManager creates a manager that authenticates against client and hands
// every Connection the shared store.
func NewManager(cfg Config, client *backend.Client, st store.Store) *Manager {
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = DefaultIdleGrace
	}
	if cfg.AuthRetryMin <= 0 {
		cfg.AuthRetryMin = DefaultAuthRetryMin
	}
	if cfg.AuthRetryMax < cfg.AuthRetryMin {
		cfg.AuthRetryMax = cfg.AuthRetryMin
	}
	set := cfg.Metrics
	if set == nil {
		set = metrics.NewSet()
	}
	cfg.Queue.Metrics = set

	return &Manager{
		cfg:    cfg,
		client: client,
		store:  st,
		authenticate: func(ctx context.Context, creds auth.Credentials) (auth.Session, error) {
			return auth.Authenticate(ctx, client, creds)
		},
		logger:  noopLogger{},
		set:     set,
		entries: make(map[string]*entry),
	}
}

// SetLogger sets the logger for the manager and its connections.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetAuthenticator replaces the backend authenticator.
func (m *Manager) SetAuthenticator(fn Authenticator) {
	m.authenticate = fn
}

// Acquire returns a reference to the Connection for creds and group,
// starting authentication if none is cached.
func (m *Manager) Acquire(creds auth.Credentials, group string) *Ref {
	key := auth.CacheKey(creds, group)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		e := &entry{key: key, group: group, done: make(chan struct{}), err: ErrManagerClosed}
		close(e.done)
		return &Ref{m: m, e: e, released: true}
	}

	e, ok := m.entries[key]
	if ok {
		if e.idle != nil {
			e.idle.Stop()
			e.idle = nil
		}
		e.refs++
		m.set.GetOrCreateCounter(`homesync_connection_cache_hits_total`).Inc()
		return &Ref{m: m, e: e}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e = &entry{key: key, group: group, refs: 1, done: make(chan struct{}), cancel: cancel}
	m.entries[key] = e
	go m.connect(ctx, e, creds)
	return &Ref{m: m, e: e}
}

// authBackOff returns the retry delay policy: uniformly jittered between
// AuthRetryMin and AuthRetryMax.
func (m *Manager) authBackOff() backoff.BackOff {
	lo, hi := m.cfg.AuthRetryMin, m.cfg.AuthRetryMax
	mid := (lo + hi) / 2
	return &backoff.ExponentialBackOff{
		InitialInterval:     mid,
		RandomizationFactor: float64(hi-lo) / float64(hi+lo),
		Multiplier:          1,
		MaxInterval:         hi,
	}
}

// connect authenticates until success, a terminal error, or cancellation.
func (m *Manager) connect(ctx context.Context, e *entry, creds auth.Credentials) {
	attempts := m.set.GetOrCreateCounter(`homesync_auth_attempts_total`)
	failures := m.set.GetOrCreateCounter(`homesync_auth_failures_total`)

	session, err := backoff.Retry(ctx, func() (auth.Session, error) {
		attempts.Inc()
		s, err := m.authenticate(ctx, creds)
		if err != nil {
			failures.Inc()
			if auth.IsTerminal(err) {
				return auth.Session{}, backoff.Permanent(err)
			}
		}
		return s, err
	},
		backoff.WithBackOff(m.authBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("authentication failed, retrying", "kind", creds.Kind(), "group", e.group, "error", err, "retry_in", next)
		}),
	)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			err = ErrReleased
		} else {
			m.logger.Error("authentication failed", "kind", creds.Kind(), "group", e.group, "error", err)
		}
		e.err = err
		close(e.done)
		return
	}

	if ctx.Err() != nil {
		e.err = ErrReleased
		close(e.done)
		return
	}

	e.conn = newConnection(session, e.group, m.client, m.store, m.cfg.Queue, m.logger)
	m.set.GetOrCreateCounter(`homesync_connections_opened_total`).Inc()
	m.logger.Info("connection established", "uid", session.UID, "group", e.group)
	close(e.done)
}

// release drops one reference and arms the idle timer at zero.
func (m *Manager) release(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs > 0 || m.entries[e.key] != e {
		return
	}
	e.idle = time.AfterFunc(m.cfg.IdleGrace, func() { m.expire(e) })
}

// expire tears an entry down if it is still unreferenced.
func (m *Manager) expire(e *entry) {
	m.mu.Lock()
	if e.refs > 0 || m.entries[e.key] != e {
		m.mu.Unlock()
		return
	}
	delete(m.entries, e.key)
	m.mu.Unlock()

	m.teardown(e)
}

func (m *Manager) teardown(e *entry) {
	e.cancel()
	<-e.done
	if e.conn != nil {
		e.conn.Close()
		m.set.GetOrCreateCounter(`homesync_connections_closed_total`).Inc()
	}
}

// Len returns the number of cached connections, including ones still
// authenticating or in their idle grace.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close tears down every cached connection immediately.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.idle != nil {
			e.idle.Stop()
		}
		entries = append(entries, e)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		m.teardown(e)
	}
}

// Ref is one holder's reference to a cached Connection.
type Ref struct {
	m        *Manager
	e        *entry
	once     sync.Once
	released bool
}

// Wait blocks until the Connection is established, authentication fails
// terminally, or ctx is done. It returns immediately once resolved.
func (r *Ref) Wait(ctx context.Context) (*Connection, error) {
	select {
	case <-r.e.done:
		return r.e.conn, r.e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the reference resolves.
func (r *Ref) Done() <-chan struct{} {
	return r.e.done
}

// Release drops the reference. Calling it more than once has no effect.
func (r *Ref) Release() {
	if r.released {
		return
	}
	r.once.Do(func() { r.m.release(r.e) })
}
