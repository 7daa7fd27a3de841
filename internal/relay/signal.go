package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"veilroom/internal/domain"
)

// Frame is the WebSocket envelope between signaling client and hub.
type Frame struct {
	Kind    string          `json:"kind"` // "event", "track" or "presence"
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Member  *domain.Member  `json:"member,omitempty"`
	Members []domain.Member `json:"members,omitempty"`
}

const (
	FrameEvent    = "event"
	FrameTrack    = "track"
	FramePresence = "presence"
)

// SignalClient is the WebSocket signaling channel for one room. The hub
// relays event frames to every subscriber except the sender and pushes a
// full presence snapshot on every membership change.
type SignalClient struct {
	conn   *websocket.Conn
	log    *slog.Logger
	secure bool

	writeMu sync.Mutex

	mu          sync.Mutex
	handlers    map[string][]func(data []byte)
	presenceFns []func(members []domain.Member)
	closed      bool
}

var _ domain.Signaler = (*SignalClient)(nil)

// DialSignal connects to the room's signaling endpoint. base is the room
// server's HTTP URL; the hash authorizes the subscription.
func DialSignal(ctx context.Context, base, roomID, sessionID, authKeyHash string, log *slog.Logger) (*SignalClient, error) {
	if log == nil {
		log = slog.Default()
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("relay: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/rooms/" + url.PathEscape(roomID) + "/ws"
	u.RawQuery = url.Values{"session": {sessionID}, "hash": {authKeyHash}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay: dial signaling: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("relay: dial signaling: %w", err)
	}

	c := &SignalClient{
		conn:     conn,
		log:      log,
		secure:   u.Scheme == "wss" || isLoopback(u.Host),
		handlers: make(map[string][]func(data []byte)),
	}
	go c.readLoop()
	return c, nil
}

// Secure reports whether the channel is safe to run the key exchange over:
// TLS, or loopback during local development.
func (c *SignalClient) Secure() bool { return c.secure }

func (c *SignalClient) Publish(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(Frame{Kind: FrameEvent, Event: event, Payload: data})
}

func (c *SignalClient) Track(ctx context.Context, m domain.Member) error {
	return c.write(Frame{Kind: FrameTrack, Member: &m})
}

func (c *SignalClient) Handle(event string, fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

func (c *SignalClient) OnPresence(fn func(members []domain.Member)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenceFns = append(c.presenceFns, fn)
}

func (c *SignalClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *SignalClient) write(f Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("relay: signaling channel closed")
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// readLoop dispatches inbound frames sequentially, preserving the wire
// order per peer.
func (c *SignalClient) readLoop() {
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Debug("signaling read loop ended", "err", err)
			}
			return
		}
		switch f.Kind {
		case FrameEvent:
			c.mu.Lock()
			fns := append([]func([]byte){}, c.handlers[f.Event]...)
			c.mu.Unlock()
			for _, fn := range fns {
				fn(f.Payload)
			}
		case FramePresence:
			c.mu.Lock()
			fns := append([]func([]domain.Member){}, c.presenceFns...)
			c.mu.Unlock()
			for _, fn := range fns {
				fn(f.Members)
			}
		default:
			c.log.Debug("dropping unknown signaling frame", "kind", f.Kind)
		}
	}
}

func isLoopback(host string) bool {
	h := host
	if strings.Contains(h, ":") {
		if split, _, err := net.SplitHostPort(host); err == nil {
			h = split
		}
	}
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
