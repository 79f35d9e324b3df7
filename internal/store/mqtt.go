package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/mqtt"
)

// Client is the subset of *mqtt.Client the MQTT store uses.
type Client interface {
	Topics() mqtt.Topics
	QoS() byte
	IsConnected() bool
	PublishRetained(topic string, payload []byte) error
	ClearRetained(topic string) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
}

// MQTT is a Store over retained MQTT topics.
//
// Values are retained messages; deletes clear them. On-disconnect writes are
// kept in a retained manifest at {prefix}/.info/ondisconnect/{clientID}. The
// client's Last Will marks its status topic offline, and any MQTT store
// running as a janitor (see Watch) then applies that client's manifest. A
// graceful Close applies the manifest directly.
//
// Thread Safety: all methods are safe for concurrent use.
type MQTT struct {
	client   Client
	topics   mqtt.Topics
	clientID string
	logger   Logger

	mu       sync.Mutex
	subs     map[string]map[int]Listener
	values   map[string][]byte
	conns    map[int]func(bool)
	manifest map[string]json.RawMessage
	nextID   int
	closed   bool

	// peers caches other clients' manifests for the janitor.
	peerMu sync.Mutex
	peers  map[string]map[string]json.RawMessage
}

// NewMQTT creates a store on a connected client. clientID must match the
// broker client ID so the Last Will and the manifest line up.
func NewMQTT(client Client, clientID string) *MQTT {
	s := &MQTT{
		client:   client,
		topics:   client.Topics(),
		clientID: clientID,
		logger:   noopLogger{},
		subs:     make(map[string]map[int]Listener),
		values:   make(map[string][]byte),
		conns:    make(map[int]func(bool)),
		manifest: make(map[string]json.RawMessage),
		peers:    make(map[string]map[string]json.RawMessage),
	}
	client.SetOnConnect(func() { s.connectionChanged(true) })
	client.SetOnDisconnect(func(error) { s.connectionChanged(false) })
	return s
}

// SetLogger sets the logger for the store.
func (s *MQTT) SetLogger(logger Logger) {
	s.logger = logger
}

// Set implements Store.
func (s *MQTT) Set(ctx context.Context, path string, value any) error {
	if err := validPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := s.client.PublishRetained(s.topics.Path(path), data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Delete implements Store.
func (s *MQTT) Delete(ctx context.Context, path string) error {
	if err := validPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.ClearRetained(s.topics.Path(path)); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// Subscribe implements Store. The broker replays the retained value to the
// first listener on a path; later listeners get the last value seen.
func (s *MQTT) Subscribe(path string, fn Listener) (func(), error) {
	if err := validPath(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextID++
	id := s.nextID
	first := s.subs[path] == nil
	if first {
		s.subs[path] = make(map[int]Listener)
	}
	s.subs[path][id] = fn
	current := s.values[path]
	s.mu.Unlock()

	if current != nil {
		fn(current)
	}
	if first {
		if err := s.client.Subscribe(s.topics.Path(path), s.client.QoS(), s.dispatch); err != nil {
			s.remove(path, id)
			return nil, fmt.Errorf("subscribing %s: %w", path, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if s.remove(path, id) {
				if err := s.client.Unsubscribe(s.topics.Path(path)); err != nil {
					s.logger.Debug("unsubscribe failed", "path", path, "error", err)
				}
			}
		})
	}, nil
}

// remove drops a listener and reports whether it was the last on path.
func (s *MQTT) remove(path string, id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[path], id)
	if len(s.subs[path]) == 0 {
		delete(s.subs, path)
		delete(s.values, path)
		return true
	}
	return false
}

// dispatch fans a broker message out to the path's listeners.
func (s *MQTT) dispatch(topic string, payload []byte) error {
	path, ok := s.topics.PathOf(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s outside prefix", ErrInvalidPath, topic)
	}
	var value []byte
	if len(payload) > 0 {
		value = payload
	}

	s.mu.Lock()
	if _, ok := s.subs[path]; ok {
		if value == nil {
			delete(s.values, path)
		} else {
			s.values[path] = value
		}
	}
	ids := make([]int, 0, len(s.subs[path]))
	for id := range s.subs[path] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.subs[path][id])
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(value)
	}
	return nil
}

// Connected implements Store.
func (s *MQTT) Connected() bool {
	return s.client.IsConnected()
}

// OnConnectionChange implements Store.
func (s *MQTT) OnConnectionChange(fn func(bool)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.conns[id] = fn
	s.mu.Unlock()

	fn(s.client.IsConnected())

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.conns, id)
	}
}

func (s *MQTT) connectionChanged(connected bool) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	conns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		conns = append(conns, s.conns[id])
	}
	s.mu.Unlock()

	s.logger.Debug("store connection changed", "connected", connected)
	for _, fn := range conns {
		fn(connected)
	}
}

// OnDisconnectSet implements Store.
func (s *MQTT) OnDisconnectSet(ctx context.Context, path string, value any) error {
	if err := validPath(path); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	s.mu.Lock()
	s.manifest[path] = data
	s.mu.Unlock()
	return s.publishManifest(ctx)
}

// CancelOnDisconnect implements Store.
func (s *MQTT) CancelOnDisconnect(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.manifest, path)
	s.mu.Unlock()
	return s.publishManifest(ctx)
}

func (s *MQTT) publishManifest(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	empty := len(s.manifest) == 0
	data, err := json.Marshal(s.manifest)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding on-disconnect manifest: %w", err)
	}

	topic := s.topics.OnDisconnect(s.clientID)
	if empty {
		err = s.client.ClearRetained(topic)
	} else {
		err = s.client.PublishRetained(topic, data)
	}
	if err != nil {
		return fmt.Errorf("publishing on-disconnect manifest: %w", err)
	}
	return nil
}

// Close applies the armed on-disconnect writes and clears the manifest.
// The MQTT client itself is owned and closed by the caller.
func (s *MQTT) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	manifest := s.manifest
	s.manifest = make(map[string]json.RawMessage)
	s.mu.Unlock()

	if err := s.apply(manifest); err != nil {
		return err
	}
	if len(manifest) > 0 {
		if err := s.client.ClearRetained(s.topics.OnDisconnect(s.clientID)); err != nil {
			return fmt.Errorf("clearing on-disconnect manifest: %w", err)
		}
	}
	return nil
}

func (s *MQTT) apply(manifest map[string]json.RawMessage) error {
	paths := make([]string, 0, len(manifest))
	for p := range manifest {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := s.client.PublishRetained(s.topics.Path(p), manifest[p]); err != nil {
			return fmt.Errorf("applying on-disconnect write %s: %w", p, err)
		}
	}
	return nil
}

// Watch makes this store a janitor for other clients: when a peer's status
// goes offline, its on-disconnect manifest is applied and cleared.
func (s *MQTT) Watch() error {
	manifests := s.topics.Path(".info/ondisconnect/+")
	if err := s.client.Subscribe(manifests, s.client.QoS(), s.peerManifest); err != nil {
		return fmt.Errorf("watching manifests: %w", err)
	}
	if err := s.client.Subscribe(s.topics.AllStatus(), s.client.QoS(), s.peerStatus); err != nil {
		return fmt.Errorf("watching presence: %w", err)
	}
	return nil
}

func (s *MQTT) peerManifest(topic string, payload []byte) error {
	id := lastSegment(topic)
	if id == s.clientID {
		return nil
	}

	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	if len(payload) == 0 {
		delete(s.peers, id)
		return nil
	}
	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return fmt.Errorf("decoding manifest of %s: %w", id, err)
	}
	s.peers[id] = manifest
	return nil
}

func (s *MQTT) peerStatus(topic string, payload []byte) error {
	if p, ok := mqtt.ParsePresence(payload); !ok || !p.Offline() {
		return nil
	}
	id := lastSegment(topic)
	if id == s.clientID {
		return nil
	}

	s.peerMu.Lock()
	manifest := s.peers[id]
	delete(s.peers, id)
	s.peerMu.Unlock()
	if len(manifest) == 0 {
		return nil
	}

	s.logger.Warn("peer disconnected, applying on-disconnect writes", "client_id", id, "writes", len(manifest))
	if err := s.apply(manifest); err != nil {
		return err
	}
	return s.client.ClearRetained(s.topics.OnDisconnect(id))
}

func lastSegment(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
