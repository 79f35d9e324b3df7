package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// Server timeouts.
const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// Executor is the local device registry the server addresses.
type Executor interface {
	Execute(ctx context.Context, id, cmd string, params map[string]any) (device.State, error)
	Lookup(id string) (*device.Cell, bool)
	Devices() []string
}

// Checker is a dependency probed by GET /health.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	// Addr is the listen address, e.g. ":3310".
	Addr    string
	Logger  *logging.Logger
	Local   Executor
	History device.History // optional
	Metrics *metrics.Set   // optional
	WS      WSConfig
	Version string
	// Checks are probed by GET /health, keyed by component name.
	Checks map[string]Checker
}

// Server is the LAN command server.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	addr    string
	logger  *logging.Logger
	local   Executor
	history device.History
	set     *metrics.Set
	wsCfg   WSConfig
	version string
	checks  map[string]Checker

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	cancel    context.CancelFunc
	startTime time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, local registry)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Local == nil {
		return nil, fmt.Errorf("local executor is required")
	}
	set := deps.Metrics
	if set == nil {
		set = metrics.NewSet()
	}
	s := &Server{
		addr:    deps.Addr,
		logger:  deps.Logger,
		local:   deps.Local,
		history: deps.History,
		set:     set,
		wsCfg:   deps.WS.withDefaults(),
		version: deps.Version,
		checks:  deps.Checks,
	}
	set.GetOrCreateGauge(`homesync_ws_clients`, func() float64 {
		return float64(s.clientCount())
	})
	return s, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Parameters:
//   - ctx: Cancelling it disconnects WebSocket clients; Close stops the listener
//
// Returns:
//   - error: If the address cannot be bound or the server is already running
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.hub = NewHub(s.logger)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	s.listener = ln
	s.startTime = time.Now()

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully shuts down the API server.
//
// It waits up to 5 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.listener, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	cancel()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
