package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. It starts connected.
//
// Thread Safety: all methods are safe for concurrent use. Listeners run on
// the calling goroutine after the store lock is released.
type Memory struct {
	mu           sync.Mutex
	values       map[string][]byte
	subs         map[string]map[int]Listener
	conns        map[int]func(bool)
	onDisconnect map[string][]byte
	connected    bool
	nextID       int
}

// NewMemory creates an empty, connected in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:       make(map[string][]byte),
		subs:         make(map[string]map[int]Listener),
		conns:        make(map[int]func(bool)),
		onDisconnect: make(map[string][]byte),
		connected:    true,
	}
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, path string, value any) error {
	if err := validPath(path); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	m.write(path, data)
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, path string) error {
	if err := validPath(path); err != nil {
		return err
	}
	m.write(path, nil)
	return nil
}

func (m *Memory) write(path string, data []byte) {
	m.mu.Lock()
	if data == nil {
		delete(m.values, path)
	} else {
		m.values[path] = data
	}
	listeners := m.listeners(path)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(data)
	}
}

// listeners returns the listeners of path in registration order. Must be
// called with m.mu held.
func (m *Memory) listeners(path string) []Listener {
	subs := m.subs[path]
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = subs[id]
	}
	return out
}

// Subscribe implements Store.
func (m *Memory) Subscribe(path string, fn Listener) (func(), error) {
	if err := validPath(path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]Listener)
	}
	m.subs[path][id] = fn
	current := m.values[path]
	m.mu.Unlock()

	if current != nil {
		fn(current)
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[path], id)
		if len(m.subs[path]) == 0 {
			delete(m.subs, path)
		}
	}, nil
}

// Connected implements Store.
func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// OnConnectionChange implements Store.
func (m *Memory) OnConnectionChange(fn func(bool)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.conns[id] = fn
	connected := m.connected
	m.mu.Unlock()

	fn(connected)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.conns, id)
	}
}

// OnDisconnectSet implements Store.
func (m *Memory) OnDisconnectSet(_ context.Context, path string, value any) error {
	if err := validPath(path); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect[path] = data
	return nil
}

// CancelOnDisconnect implements Store.
func (m *Memory) CancelOnDisconnect(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.onDisconnect, path)
	return nil
}

// SetConnected changes the connection state. A transition to disconnected
// applies and clears the armed on-disconnect writes before listeners run.
func (m *Memory) SetConnected(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected

	var armed map[string][]byte
	if !connected {
		armed = m.onDisconnect
		m.onDisconnect = make(map[string][]byte)
	}
	conns := make([]func(bool), 0, len(m.conns))
	ids := make([]int, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		conns = append(conns, m.conns[id])
	}
	m.mu.Unlock()

	paths := make([]string, 0, len(armed))
	for p := range armed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		m.write(p, armed[p])
	}

	for _, fn := range conns {
		fn(connected)
	}
}

// Get returns the raw JSON value at path.
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[path]
	return v, ok
}

// Armed returns the paths with armed on-disconnect writes, sorted.
func (m *Memory) Armed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.onDisconnect))
	for p := range m.onDisconnect {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Subscribers returns the number of listeners on path.
func (m *Memory) Subscribers(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[path])
}

// Paths returns the stored paths under prefix, sorted.
func (m *Memory) Paths(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.values {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
