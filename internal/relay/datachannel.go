package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"veilroom/internal/domain"
)

const sendTimeout = 10 * time.Second

// SignalDataChannel tunnels binary transfer frames through the signaling
// channel, for peers without a direct connection. Frames ride as base64
// inside an event payload; the relay still sees only ciphertext.
type SignalDataChannel struct {
	sig domain.Signaler

	mu      sync.Mutex
	onFrame func(frame []byte)
}

var _ domain.DataChannel = (*SignalDataChannel)(nil)

type dataFrame struct {
	Frame []byte `json:"frame"`
}

// NewSignalDataChannel attaches a data channel to an open signaler.
func NewSignalDataChannel(sig domain.Signaler) *SignalDataChannel {
	c := &SignalDataChannel{sig: sig}
	sig.Handle(domain.EventFileFrame, c.receive)
	return c
}

func (c *SignalDataChannel) Send(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return c.sig.Publish(ctx, domain.EventFileFrame, dataFrame{Frame: frame})
}

// Buffered always reports an empty queue: every Send is pushed through the
// signaler synchronously, so there is nothing for backpressure to drain.
func (c *SignalDataChannel) Buffered() int { return 0 }

func (c *SignalDataChannel) OnFrame(fn func(frame []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = fn
}

func (c *SignalDataChannel) receive(data []byte) {
	var f dataFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	if fn != nil && len(f.Frame) > 0 {
		fn(f.Frame)
	}
}

// Close leaves the underlying signaler open; its owner tears it down.
func (c *SignalDataChannel) Close() error { return nil }
