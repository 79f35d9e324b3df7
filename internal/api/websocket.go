package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSEventDeviceUpdate carries a device.Update.
	WSEventDeviceUpdate = "device.update"

	outboxSize = 256
)

// WSConfig holds WebSocket connection settings. Zero values select defaults.
type WSConfig struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

func (c WSConfig) withDefaults() WSConfig {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8192
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	return c
}

// readWindow is how long a silent peer is tolerated.
func (c WSConfig) readWindow() time.Duration {
	return c.PingInterval + c.PongTimeout
}

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Devices []string `json:"devices"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// LAN-only listener.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub is the set of live update streams.
type Hub struct {
	logger *logging.Logger
	peers  *xsync.MapOf[*peer, struct{}]
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{logger: logger, peers: xsync.NewMapOf[*peer, struct{}]()}
}

// Run blocks until ctx is done, then drops every peer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.peers.Range(func(p *peer, _ struct{}) bool {
		p.shutdown()
		return true
	})
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	return h.peers.Size()
}

// peer is one WebSocket connection and the cells it follows.
type peer struct {
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	follows map[string]func()
}

func newPeer(h *Hub, conn *websocket.Conn) *peer {
	return &peer{
		hub:     h,
		conn:    conn,
		outbox:  make(chan []byte, outboxSize),
		stop:    make(chan struct{}),
		follows: make(map[string]func()),
	}
}

// shutdown cancels every follow, leaves the hub and closes the socket.
// Safe to call more than once.
func (p *peer) shutdown() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.hub.peers.Delete(p)
		p.unfollowAll()
		_ = p.conn.Close()
		p.hub.logger.Debug("websocket client disconnected", "clients", p.hub.ClientCount())
	})
}

// handleWebSocket upgrades the connection and follows the devices named by
// repeated "device" query parameters, or every registered device when none
// are named.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hub := s.hub
	s.mu.Unlock()
	if hub == nil {
		fail(w, http.StatusServiceUnavailable, CodeUnavailable, "server not started")
		return
	}

	ids := r.URL.Query()["device"]
	if len(ids) == 0 {
		ids = s.local.Devices()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	p := newPeer(hub, conn)
	for _, id := range ids {
		if cell, ok := s.local.Lookup(id); ok {
			p.follow(cell)
		}
	}
	hub.peers.Store(p, struct{}{})
	hub.logger.Debug("websocket client connected", "clients", hub.ClientCount())

	go p.writeLoop(s.wsCfg)
	go p.readLoop(s.wsCfg, s.local)
}

// follow forwards the cell's updates to the peer. Following twice is a no-op.
func (p *peer) follow(cell *device.Cell) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.follows[cell.ID()]; ok {
		return
	}
	updates, cancel := cell.Updates()
	p.follows[cell.ID()] = cancel
	go func() {
		for u := range updates {
			p.push(WSMessage{Type: WSTypeEvent, EventType: WSEventDeviceUpdate, Payload: u})
		}
	}()
}

func (p *peer) unfollow(id string) {
	p.mu.Lock()
	cancel, ok := p.follows[id]
	delete(p.follows, id)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *peer) unfollowAll() {
	p.mu.Lock()
	follows := p.follows
	p.follows = make(map[string]func())
	p.mu.Unlock()
	for _, cancel := range follows {
		cancel()
	}
}

// push stamps and queues msg. Frames for a slow or stopped peer are dropped.
func (p *peer) push(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		p.hub.logger.Error("encoding websocket frame", "type", msg.Type, "error", err)
		return
	}
	select {
	case <-p.stop:
	case p.outbox <- data:
	default:
		p.hub.logger.Debug("websocket outbox full, frame dropped", "type", msg.Type)
	}
}

func (p *peer) reply(id, typ string, payload any) {
	p.push(WSMessage{Type: typ, ID: id, Payload: payload})
}

func (p *peer) replyError(id, message string) {
	p.reply(id, WSTypeError, map[string]string{"message": message})
}

func (p *peer) readLoop(cfg WSConfig, local Executor) {
	defer p.shutdown()

	extend := func() error {
		return p.conn.SetReadDeadline(time.Now().Add(cfg.readWindow()))
	}
	p.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = extend()
	p.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = extend()
		p.dispatch(frame, local)
	}
}

func (p *peer) writeLoop(cfg WSConfig) {
	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()
	defer p.shutdown()

	write := func(kind int, data []byte) error {
		_ = p.conn.SetWriteDeadline(time.Now().Add(cfg.PongTimeout))
		return p.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-p.stop:
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-p.outbox:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) dispatch(frame []byte, local Executor) {
	var msg WSMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		p.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		p.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		ids, ok := subscriptionIDs(msg.Payload)
		if !ok {
			p.replyError(msg.ID, "invalid "+msg.Type+" payload")
			return
		}
		if msg.Type == WSTypeUnsubscribe {
			for _, id := range ids {
				p.unfollow(id)
			}
			p.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": ids})
			return
		}
		followed := make([]string, 0, len(ids))
		for _, id := range ids {
			if cell, ok := local.Lookup(id); ok {
				p.follow(cell)
				followed = append(followed, id)
			}
		}
		p.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": followed})
	default:
		p.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// subscriptionIDs re-decodes a generic payload as WSSubscribePayload.
func subscriptionIDs(payload any) ([]string, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, false
	}
	return sub.Devices, true
}
