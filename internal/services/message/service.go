package message

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"veilroom/internal/crypto"
	"veilroom/internal/domain"
)

var (
	// ErrEmptyMessage rejects empty or whitespace-only content.
	ErrEmptyMessage = errors.New("message: empty content")

	// ErrNoSession means the handshake has not produced a session key yet.
	ErrNoSession = errors.New("message: no session key")
)

// Message is one plaintext chat entry, in local-receipt order.
type Message struct {
	ID         string
	SenderID   string
	SenderName string
	Text       string
	Timestamp  time.Time
	Mine       bool
}

// Service seals outbound text and opens inbound frames. The transport does
// not echo the sender's own broadcasts, so Send appends locally right away.
type Service struct {
	sig  domain.Signaler
	log  *slog.Logger
	self domain.Member

	mu     sync.Mutex
	key    domain.SessionKey
	hasKey bool

	onMessage func(Message)
}

// New wires the service to a signaler and registers the receive handler.
func New(sig domain.Signaler, self domain.Member, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{sig: sig, log: log, self: self}
	sig.Handle(domain.EventMessage, s.receive)
	return s
}

// OnMessage registers the inbound plaintext callback.
func (s *Service) OnMessage(fn func(Message)) { s.onMessage = fn }

// SetSessionKey installs the key produced by the handshake.
func (s *Service) SetSessionKey(key domain.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.hasKey = true
}

// InvalidateKey wipes the key when the peer disconnects. The next handshake
// must start from scratch.
func (s *Service) InvalidateKey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.WipeSessionKey(&s.key)
	s.key = domain.SessionKey{}
	s.hasKey = false
}

// Send seals text with the session key and broadcasts it, returning the
// local entry to append immediately.
func (s *Service) Send(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}
	s.mu.Lock()
	key, ok := s.key, s.hasKey
	s.mu.Unlock()
	if !ok {
		return Message{}, ErrNoSession
	}

	sealed, err := crypto.SealSession([]byte(text), key)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		ID:         uuid.NewString(),
		SenderID:   s.self.ID,
		SenderName: s.self.Name,
		Text:       text,
		Timestamp:  time.Now(),
		Mine:       true,
	}
	wire := domain.ChatMessage{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		Timestamp:  msg.Timestamp.UnixMilli(),
	}
	if err := s.sig.Publish(ctx, domain.EventMessage, wire); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *Service) receive(data []byte) {
	var wire domain.ChatMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		s.log.Debug("dropping malformed message frame", "err", err)
		return
	}
	s.mu.Lock()
	key, ok := s.key, s.hasKey
	s.mu.Unlock()
	if !ok {
		return
	}
	plain, err := crypto.OpenSession(domain.EncryptedPayload{Ciphertext: wire.Ciphertext, Nonce: wire.Nonce}, key)
	if err != nil {
		// Foreign-key or corrupted frames are noise, not errors.
		s.log.Debug("dropping undecryptable message frame", "sender", wire.SenderID)
		return
	}
	if s.onMessage != nil {
		s.onMessage(Message{
			ID:         wire.ID,
			SenderID:   wire.SenderID,
			SenderName: wire.SenderName,
			Text:       string(plain),
			Timestamp:  time.UnixMilli(wire.Timestamp),
		})
	}
}
