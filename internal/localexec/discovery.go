package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ReplyTypeProxy marks a discovery reply sent by a proxy.
const ReplyTypeProxy = "proxy"

// maxPacket bounds discovery datagrams in both directions.
const maxPacket = 1024

// Reply is the discovery answer.
type Reply struct {
	Type    string `cbor:"type"`
	ProxyID string `cbor:"proxyId"`
	Port    int    `cbor:"port"`
}

// Responder answers discovery packets on a UDP socket.
//
// Thread Safety: Serve must be called once; Close may be called from any
// goroutine.
type Responder struct {
	conn      net.PacketConn
	magic     []byte
	reply     []byte
	replyPort int
	logger    Logger
}

// Listen opens a discovery responder on addr.
//
// Parameters:
//   - addr: UDP listen address, e.g. ":3311"
//   - magic: The exact packet that triggers a reply
//   - reply: The answer to send
//   - replyPort: Port on the sender's host the reply goes to; 0 answers the
//     sender's source port
//
// Returns:
//   - *Responder: Ready to Serve
//   - error: If the socket cannot be opened or the reply cannot be encoded
func Listen(addr, magic string, reply Reply, replyPort int) (*Responder, error) {
	if magic == "" {
		return nil, ErrNoMagicPacket
	}
	payload, err := cbor.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("encoding discovery reply: %w", err)
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for discovery on %s: %w", addr, err)
	}
	return &Responder{
		conn:      conn,
		magic:     []byte(magic),
		reply:     payload,
		replyPort: replyPort,
		logger:    noopLogger{},
	}, nil
}

// SetLogger sets the logger for the responder.
func (r *Responder) SetLogger(logger Logger) {
	r.logger = logger
}

// Addr returns the bound address.
func (r *Responder) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Serve answers packets until the responder is closed. It returns nil after
// Close.
func (r *Responder) Serve() error {
	buf := make([]byte, maxPacket)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading discovery packet: %w", err)
		}
		if !bytes.Equal(buf[:n], r.magic) {
			r.logger.Debug("ignoring discovery packet", "from", from.String(), "bytes", n)
			continue
		}
		to := r.target(from)
		if to == nil {
			continue
		}
		if _, err := r.conn.WriteTo(r.reply, to); err != nil {
			r.logger.Warn("discovery reply failed", "to", to.String(), "error", err)
			continue
		}
		r.logger.Debug("discovery reply sent", "to", to.String())
	}
}

func (r *Responder) target(from net.Addr) net.Addr {
	udp, ok := from.(*net.UDPAddr)
	if !ok {
		return nil
	}
	if r.replyPort == 0 {
		return udp
	}
	return &net.UDPAddr{IP: udp.IP, Port: r.replyPort, Zone: udp.Zone}
}

// Close stops the responder.
func (r *Responder) Close() error {
	return r.conn.Close()
}

// Found is a reply received by Discover.
type Found struct {
	Reply
	Addr string
}

// Discover sends the magic packet to target and collects replies arriving on
// listen until ctx is done. Replies are de-duplicated by proxy ID.
//
// Parameters:
//   - ctx: Bounds the collection window; a context without deadline must be
//     cancelled by the caller
//   - target: Where to send the packet, e.g. "255.255.255.255:3311"
//   - listen: Local address replies arrive on, e.g. ":3312"
//   - magic: The discovery packet
func Discover(ctx context.Context, target, listen, magic string) ([]Found, error) {
	dst, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", target, err)
	}
	src, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", listen, err)
	}
	conn, err := net.ListenUDP("udp", src)
	if err != nil {
		return nil, fmt.Errorf("listening for replies on %s: %w", listen, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.WriteToUDP([]byte(magic), dst); err != nil {
		return nil, fmt.Errorf("sending discovery packet: %w", err)
	}

	var found []Found
	seen := make(map[string]bool)
	buf := make([]byte, maxPacket)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return found, nil
			}
			return found, fmt.Errorf("reading discovery reply: %w", err)
		}
		var reply Reply
		if err := cbor.Unmarshal(buf[:n], &reply); err != nil || reply.Type != ReplyTypeProxy {
			continue
		}
		if seen[reply.ProxyID] {
			continue
		}
		seen[reply.ProxyID] = true
		found = append(found, Found{Reply: reply, Addr: net.JoinHostPort(from.IP.String(), strconv.Itoa(reply.Port))})
	}
}
