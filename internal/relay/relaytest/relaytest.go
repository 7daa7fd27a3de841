// Package relaytest provides in-memory stand-ins for the signaling channel
// and the peer data channel, so session logic can be exercised without any
// network.
package relaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"veilroom/internal/domain"
)

// Hub is an in-memory per-room signaling fabric. Broadcasts reach every
// joined client except the sender; presence changes fan out full-membership
// snapshots to everyone.
type Hub struct {
	mu      sync.Mutex
	clients []*Client
}

func NewHub() *Hub { return &Hub{} }

// Join attaches a new client to the hub.
func (h *Hub) Join() *Client {
	c := &Client{hub: h, handlers: make(map[string][]func(data []byte))}
	h.mu.Lock()
	h.clients = append(h.clients, c)
	h.mu.Unlock()
	return c
}

// Members returns the current presence snapshot.
func (h *Hub) Members() []domain.Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.membersLocked()
}

func (h *Hub) membersLocked() []domain.Member {
	var out []domain.Member
	for _, c := range h.clients {
		c.mu.Lock()
		if c.member != nil {
			out = append(out, *c.member)
		}
		c.mu.Unlock()
	}
	return out
}

// broadcastPresence snapshots membership and delivers it outside the hub
// lock, since handlers may re-enter the hub (a self-evicting client closes
// itself from inside its own presence handler).
func (h *Hub) broadcastPresence() {
	h.mu.Lock()
	members := h.membersLocked()
	clients := append([]*Client{}, h.clients...)
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		fns := append([]func([]domain.Member){}, c.presenceFns...)
		c.mu.Unlock()
		for _, fn := range fns {
			fn(members)
		}
	}
}

// Client implements domain.Signaler against its hub.
type Client struct {
	hub *Hub

	mu          sync.Mutex
	handlers    map[string][]func(data []byte)
	presenceFns []func(members []domain.Member)
	member      *domain.Member
	closed      bool
}

var _ domain.Signaler = (*Client)(nil)

func (c *Client) Publish(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("relaytest: publish on closed client")
	}
	c.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.hub.mu.Lock()
	peers := append([]*Client{}, c.hub.clients...)
	c.hub.mu.Unlock()

	// No self-echo: the sender's own handlers are skipped.
	for _, peer := range peers {
		if peer == c {
			continue
		}
		peer.deliver(event, data)
	}
	return nil
}

func (c *Client) deliver(event string, data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fns := append([]func([]byte){}, c.handlers[event]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (c *Client) Handle(event string, fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

func (c *Client) Track(ctx context.Context, m domain.Member) error {
	c.mu.Lock()
	c.member = &m
	c.mu.Unlock()

	c.hub.broadcastPresence()
	return nil
}

func (c *Client) OnPresence(fn func(members []domain.Member)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenceFns = append(c.presenceFns, fn)
}

func (c *Client) Secure() bool { return true }

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.member = nil
	c.mu.Unlock()

	c.hub.mu.Lock()
	for i, peer := range c.hub.clients {
		if peer == c {
			c.hub.clients = append(c.hub.clients[:i], c.hub.clients[i+1:]...)
			break
		}
	}
	c.hub.mu.Unlock()

	c.hub.broadcastPresence()
	return nil
}

// Channel is one end of an in-memory data-channel pair. Frames are
// delivered synchronously to the peer's handler; Buffered is settable so
// backpressure paths can be exercised.
type Channel struct {
	mu       sync.Mutex
	peer     *Channel
	handler  func(frame []byte)
	buffered int
	closed   bool
}

var _ domain.DataChannel = (*Channel)(nil)

// NewDataChannelPair returns two connected channel ends.
func NewDataChannelPair() (*Channel, *Channel) {
	a, b := &Channel{}, &Channel{}
	a.peer, b.peer = b, a
	return a, b
}

func (c *Channel) Send(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("relaytest: send on closed channel")
	}
	peer := c.peer
	c.mu.Unlock()

	peer.mu.Lock()
	h := peer.handler
	peer.mu.Unlock()
	if h != nil {
		h(append([]byte(nil), frame...))
	}
	return nil
}

func (c *Channel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// SetBuffered fakes an outstanding buffered byte count.
func (c *Channel) SetBuffered(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = n
}

func (c *Channel) OnFrame(fn func(frame []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
