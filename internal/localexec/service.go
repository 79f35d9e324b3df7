package localexec

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

// Default service settings.
const (
	DefaultDiscoveryPort = 3311
	DefaultReplyPort     = 3312
	DefaultCommandPort   = 3310
	DefaultMagicPacket   = "homesync-discovery-v1"
	DefaultIdleGrace     = 30 * time.Second
)

// Config holds local execution settings.
type Config struct {
	// Host is the bind host for discovery; empty binds all interfaces.
	Host          string
	DiscoveryPort int
	ReplyPort     int
	// CommandPort is advertised in discovery replies.
	CommandPort int
	MagicPacket string
	IdleGrace   time.Duration
	// Addrs supplies hardware addresses for the proxy ID. Nil reads the host.
	Addrs HardwareAddrs
	// Metrics receives the service counters. Nil selects a private set.
	Metrics *metrics.Set
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		DiscoveryPort: DefaultDiscoveryPort,
		ReplyPort:     DefaultReplyPort,
		CommandPort:   DefaultCommandPort,
		MagicPacket:   DefaultMagicPacket,
		IdleGrace:     DefaultIdleGrace,
	}
}

// Server is the LAN command server whose lifetime the service owns.
type Server interface {
	Start(ctx context.Context) error
	Close() error
}

// Logger defines the logging interface used by the localexec package.
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

// unsafeTraits and unsafeTypes form the exception set of devices that must
// never be executed locally.
var (
	unsafeTraits = []device.Trait{device.TraitLockUnlock, device.TraitArmDisarm}
	unsafeTypes  = map[device.Type]bool{
		device.TypeGarage:         true,
		device.TypeDoor:           true,
		device.TypeGate:           true,
		device.TypeLock:           true,
		device.TypeSecuritySystem: true,
	}
)

// Eligible reports whether d may be registered for local execution.
// The device must opt in and must not be in the exception set.
func Eligible(d *device.Device) bool {
	if d == nil || !d.NoraSpecific.LocalExecution() || d.NoraSpecific.TwoFactor() {
		return false
	}
	if unsafeTypes[d.Type] {
		return false
	}
	for _, t := range unsafeTraits {
		if d.HasTrait(t) {
			return false
		}
	}
	return true
}

// Service is the process-wide local execution registry.
//
// Lookups are lock-free. Registration changes are serialised and drive the
// lifetime of the discovery responder and the command server.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	cfg     Config
	proxyID string
	devices *xsync.MapOf[string, *device.Cell]
	logger  Logger
	set     *metrics.Set

	mu        sync.Mutex
	server    Server
	refs      int
	running   bool
	closed    bool
	idle      *time.Timer
	idleGen   uint64
	responder *Responder
	cancel    context.CancelFunc
	served    chan struct{}
}

// New creates a stopped service and computes its proxy ID.
func New(cfg Config) *Service {
	if cfg.MagicPacket == "" {
		cfg.MagicPacket = DefaultMagicPacket
	}
	if cfg.IdleGrace < 0 {
		cfg.IdleGrace = 0
	}
	set := cfg.Metrics
	if set == nil {
		set = metrics.NewSet()
	}
	s := &Service{
		cfg:     cfg,
		proxyID: ProxyID(cfg.Addrs),
		devices: xsync.NewMapOf[string, *device.Cell](),
		logger:  noopLogger{},
		set:     set,
	}
	set.GetOrCreateGauge(`homesync_local_devices`, func() float64 {
		return float64(s.devices.Size())
	})
	return s
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetServer sets the command server started alongside discovery.
// It must be called before the first Register.
func (s *Service) SetServer(srv Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = srv
}

// ProxyID returns the identity advertised during discovery.
func (s *Service) ProxyID() string {
	return s.proxyID
}

// Register adds cell to the registry if its device is eligible and
// advertises the local execution path in its side-channel fields.
//
// Returns:
//   - bool: Whether the device was registered
//   - error: If the shared listeners failed to start; the device stays
//     registered and the next Register retries
func (s *Service) Register(cell *device.Cell) (bool, error) {
	if !Eligible(cell.Device()) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	id := cell.ID()
	if _, loaded := s.devices.LoadOrStore(id, cell); loaded {
		s.devices.Store(id, cell)
	} else {
		s.refs++
	}
	cell.SetNoraSpecific(device.NoraLocalDeviceID, id)
	cell.SetNoraSpecific(device.NoraProxyID, s.proxyID)

	s.stopIdle()
	if s.running {
		return true, nil
	}
	if err := s.start(); err != nil {
		return true, err
	}
	return true, nil
}

// Unregister removes cell and clears its side-channel fields. A cell that
// has since been replaced by another registration under the same ID is
// left alone. The listeners stop once the last device has been gone for
// the idle grace.
func (s *Service) Unregister(cell *device.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := cell.ID()
	current, ok := s.devices.Load(id)
	if !ok || current != cell {
		return
	}
	s.devices.Delete(id)
	cell.SetNoraSpecific(device.NoraLocalDeviceID, nil)
	cell.SetNoraSpecific(device.NoraProxyID, nil)

	s.refs--
	if s.refs > 0 || !s.running || s.closed {
		return
	}
	s.idleGen++
	gen := s.idleGen
	s.idle = time.AfterFunc(s.cfg.IdleGrace, func() { s.expire(gen) })
}

// stopIdle cancels a pending idle teardown. Must be called with s.mu held.
func (s *Service) stopIdle() {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	s.idleGen++
}

func (s *Service) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.idleGen || s.refs > 0 {
		return
	}
	s.idle = nil
	s.stop()
}

// start opens the discovery responder and the command server.
// Must be called with s.mu held.
func (s *Service) start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.DiscoveryPort))
	reply := Reply{Type: ReplyTypeProxy, ProxyID: s.proxyID, Port: s.cfg.CommandPort}
	responder, err := Listen(addr, s.cfg.MagicPacket, reply, s.cfg.ReplyPort)
	if err != nil {
		return err
	}
	responder.SetLogger(s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	if s.server != nil {
		if err := s.server.Start(ctx); err != nil {
			cancel()
			_ = responder.Close()
			return fmt.Errorf("starting command server: %w", err)
		}
	}

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := responder.Serve(); err != nil {
			s.logger.Error("discovery responder stopped", "error", err)
		}
	}()

	s.responder = responder
	s.cancel = cancel
	s.served = served
	s.running = true
	s.set.GetOrCreateCounter(`homesync_local_starts_total`).Inc()
	s.logger.Info("local execution started", "proxy_id", s.proxyID, "discovery", responder.Addr().String(), "command_port", s.cfg.CommandPort)
	return nil
}

// stop closes the listeners. Must be called with s.mu held.
func (s *Service) stop() {
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	if err := s.responder.Close(); err != nil {
		s.logger.Warn("closing discovery responder", "error", err)
	}
	<-s.served
	if s.server != nil {
		if err := s.server.Close(); err != nil {
			s.logger.Warn("closing command server", "error", err)
		}
	}
	s.responder = nil
	s.logger.Info("local execution stopped")
}

// Running reports whether the listeners are up.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// DiscoveryAddr returns the bound discovery address, or nil when stopped.
func (s *Service) DiscoveryAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responder == nil {
		return nil
	}
	return s.responder.Addr()
}

// Lookup returns the registered cell for id.
func (s *Service) Lookup(id string) (*device.Cell, bool) {
	return s.devices.Load(id)
}

// Devices returns the registered device IDs.
func (s *Service) Devices() []string {
	ids := make([]string, 0, s.devices.Size())
	s.devices.Range(func(id string, _ *device.Cell) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Execute runs a command against a registered device through its cell's
// local command path.
//
// Returns:
//   - device.State: The committed state after the command
//   - error: *device.CommandError with CodeDeviceNotFound for unknown
//     devices, or whatever the cell returned
func (s *Service) Execute(ctx context.Context, id, cmd string, params map[string]any) (device.State, error) {
	cell, ok := s.devices.Load(id)
	if !ok {
		s.commands("not_found").Inc()
		return nil, device.NewCommandError(device.CodeDeviceNotFound)
	}
	state, err := cell.ExecuteCommand(ctx, cmd, params)
	if err != nil {
		s.commands("error").Inc()
		s.logger.Warn("local command failed", "device_id", id, "command", cmd, "error", err)
		return nil, err
	}
	s.commands("ok").Inc()
	return state, nil
}

func (s *Service) commands(outcome string) *metrics.Counter {
	return s.set.GetOrCreateCounter(fmt.Sprintf(`homesync_local_commands_total{outcome=%q}`, outcome))
}

// Close stops the listeners immediately and rejects further registrations.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopIdle()
	s.stop()
}
