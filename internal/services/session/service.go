package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"veilroom/internal/crypto"
	"veilroom/internal/domain"
	"veilroom/internal/protocol/handshake"
	"veilroom/internal/protocol/transfer"
	"veilroom/internal/relay"
	"veilroom/internal/services/message"
	"veilroom/internal/services/room"
)

// ErrNotReady means the key exchange has not completed yet.
var ErrNotReady = errors.New("session: handshake not ready")

// Dialer opens the signaling channel once the auth-key hash is known. The
// hash is derived from the password, so the channel cannot be dialed before
// derivation.
type Dialer func(ctx context.Context, authKeyHash string) (domain.Signaler, error)

// Config collects the session's collaborators.
type Config struct {
	RoomID   string
	Password string
	Self     domain.Member
	Dial     Dialer
	API      domain.RoomAPI
	Log      *slog.Logger
}

// Service is the per-visit orchestrator. It owns the handshake, the room
// state machine and the message channel, and exposes transfer endpoints
// bound to the session key.
type Service struct {
	cfg Config
	log *slog.Logger
	hs  *handshake.Handshake

	mu       sync.Mutex
	cred     domain.RoomCredential
	authHash string
	derived  bool
	sig      domain.Signaler
	rooms    *room.Service
	msgs     *message.Service
	key      domain.SessionKey
	ready    bool

	onReady    func()
	onPeerLeft func()
	onRoomFull func()
	onMessage  func(message.Message)
	onSignal   map[string]func(data []byte)
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		log:      cfg.Log,
		hs:       handshake.New(),
		onSignal: make(map[string]func(data []byte)),
	}
}

// OnReady fires once per visit, when the shared secret latches.
func (s *Service) OnReady(fn func()) { s.onReady = fn }

// OnPeerLeft fires when the peer departs. The session secret is already
// invalidated when the callback runs.
func (s *Service) OnPeerLeft(fn func()) { s.onPeerLeft = fn }

// OnRoomFull fires when this participant self-evicts from a full room.
func (s *Service) OnRoomFull(fn func()) { s.onRoomFull = fn }

// OnSignal registers a handler for a sealed signaling event. The handler
// receives decrypted payload bytes; undecryptable frames are dropped.
func (s *Service) OnSignal(event string, fn func(data []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSignal[event] = fn
}

// Create derives the room credential and registers the room on the server.
// The server receives only the hash of the auth key.
func (s *Service) Create(ctx context.Context) error {
	if err := s.derive(); err != nil {
		return err
	}
	if _, err := s.cfg.API.CreateRoom(ctx, s.cfg.RoomID, s.authHash); err != nil {
		return fmt.Errorf("session: create room: %w", err)
	}
	return nil
}

// Join runs the full entry sequence: derive, authorize, dial signaling,
// start the handshake and announce our ephemeral key. It returns once the
// announcement is out; the shared secret latches asynchronously when the
// peer's key arrives.
func (s *Service) Join(ctx context.Context) error {
	if err := s.derive(); err != nil {
		return err
	}
	if _, err := s.cfg.API.Authorize(ctx, s.cfg.RoomID, s.authHash); err != nil {
		return fmt.Errorf("session: authorize: %w", err)
	}

	sig, err := s.cfg.Dial(ctx, s.authHash)
	if err != nil {
		return fmt.Errorf("session: dial signaling: %w", err)
	}
	if err := s.hs.Begin(sig.Secure()); err != nil {
		_ = sig.Close()
		return err
	}

	self := s.cfg.Self
	self.PublicKey = s.hs.LocalPublic().Slice()
	if self.JoinedAt == 0 {
		self.JoinedAt = time.Now().UnixMilli()
	}

	msgs := message.New(sig, self, s.log)
	msgs.OnMessage(func(m message.Message) {
		if fn := s.onMessageFn(); fn != nil {
			fn(m)
		}
	})

	rooms := room.New(sig, s.cfg.API, s.cfg.RoomID, s.authHash, self, s.log)
	rooms.OnPeerKey(s.latch)
	rooms.OnPeerLeft(s.handlePeerLeft)
	rooms.OnRoomFull(func() {
		s.invalidate()
		if s.onRoomFull != nil {
			s.onRoomFull()
		}
	})

	sig.Handle(domain.EventKeyExchange, s.handleKeyExchange)
	for _, event := range []string{domain.EventRTCOffer, domain.EventRTCAnswer, domain.EventRTCICE} {
		event := event
		sig.Handle(event, func(data []byte) { s.receiveSignal(event, data) })
	}

	s.mu.Lock()
	s.sig = sig
	s.rooms = rooms
	s.msgs = msgs
	s.cfg.Self = self
	s.mu.Unlock()

	if err := rooms.Attach(ctx); err != nil {
		s.abortJoin(sig)
		return fmt.Errorf("session: attach presence: %w", err)
	}
	if err := s.announceKey(ctx, sig, self); err != nil {
		s.abortJoin(sig)
		return err
	}
	s.hs.MarkOfferSent()
	return nil
}

// abortJoin unwinds a half-joined visit: the signaler is closed so the
// relay drops us from presence, and the handshake key material is wiped so
// a retry starts from scratch.
func (s *Service) abortJoin(sig domain.Signaler) {
	_ = sig.Close()
	s.hs.Reset()
	s.mu.Lock()
	s.sig = nil
	s.rooms = nil
	s.msgs = nil
	s.mu.Unlock()
}

func (s *Service) announceKey(ctx context.Context, sig domain.Signaler, self domain.Member) error {
	offer := domain.KeyExchange{
		SessionID: self.ID,
		Name:      self.Name,
		PublicKey: self.PublicKey,
	}
	if err := sig.Publish(ctx, domain.EventKeyExchange, offer); err != nil {
		return fmt.Errorf("session: announce key: %w", err)
	}
	return nil
}

// derive runs the slow KDF once per service.
func (s *Service) derive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.derived {
		return nil
	}
	cred, err := crypto.DeriveCredential(s.cfg.Password, s.cfg.RoomID)
	if err != nil {
		return err
	}
	s.cred = cred
	s.authHash = crypto.HashAuthKey(cred.AuthKey)
	s.derived = true
	return nil
}

func (s *Service) handleKeyExchange(data []byte) {
	var ev domain.KeyExchange
	if err := json.Unmarshal(data, &ev); err != nil {
		s.log.Debug("dropping malformed key exchange", "err", err)
		return
	}
	if ev.SessionID == s.cfg.Self.ID || len(ev.PublicKey) != 32 {
		return
	}
	// An offer arriving before our own broadcast makes us the responder.
	s.hs.MarkAwaitingOffer()
	s.latch(domain.MustBoxPublic(ev.PublicKey))
}

// latch feeds the peer key into the handshake. Both delivery paths, the
// key_exchange broadcast and the presence snapshot, funnel here; the
// handshake accepts exactly one.
func (s *Service) latch(pub domain.BoxPublic) {
	key, latched := s.hs.PeerKey(pub)
	if !latched {
		return
	}
	s.mu.Lock()
	s.key = key
	s.ready = true
	msgs := s.msgs
	s.mu.Unlock()

	if msgs != nil {
		msgs.SetSessionKey(key)
	}
	s.hs.Confirm()
	s.log.Info("session key established", "room", s.cfg.RoomID)
	if s.onReady != nil {
		s.onReady()
	}
}

// handlePeerLeft wipes the secret, then rearms the handshake with a fresh
// keypair so a returning peer negotiates a brand new session.
func (s *Service) handlePeerLeft() {
	s.invalidate()

	s.mu.Lock()
	sig := s.sig
	self := s.cfg.Self
	s.mu.Unlock()
	if sig == nil {
		return
	}

	if err := s.hs.Begin(sig.Secure()); err != nil {
		s.log.Warn("handshake rearm failed", "err", err)
		return
	}
	self.PublicKey = s.hs.LocalPublic().Slice()
	s.mu.Lock()
	s.cfg.Self = self
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sig.Track(ctx, self); err != nil {
		s.log.Debug("presence update failed", "err", err)
	}
	if err := s.announceKey(ctx, sig, self); err != nil {
		s.log.Debug("key announcement failed", "err", err)
	}
	s.hs.MarkOfferSent()

	if s.onPeerLeft != nil {
		s.onPeerLeft()
	}
}

func (s *Service) invalidate() {
	s.mu.Lock()
	msgs := s.msgs
	s.ready = false
	crypto.WipeSessionKey(&s.key)
	s.key = domain.SessionKey{}
	s.mu.Unlock()

	if msgs != nil {
		msgs.InvalidateKey()
	}
	s.hs.Reset()
}

// Ready reports whether the session key is established.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Peer returns the current peer's presence record.
func (s *Service) Peer() (domain.Member, bool) {
	s.mu.Lock()
	rooms := s.rooms
	s.mu.Unlock()
	if rooms == nil {
		return domain.Member{}, false
	}
	return rooms.Peer()
}

// SendMessage seals and broadcasts one text message.
func (s *Service) SendMessage(ctx context.Context, text string) (message.Message, error) {
	s.mu.Lock()
	msgs := s.msgs
	s.mu.Unlock()
	if msgs == nil {
		return message.Message{}, ErrNotReady
	}
	return msgs.Send(ctx, text)
}

func (s *Service) onMessageFn() func(message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onMessage
}

// OnMessage registers the inbound text handler.
func (s *Service) OnMessage(fn func(message.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// SendSignal seals a connection-negotiation payload and broadcasts it under
// the given event. The relay sees only ciphertext.
func (s *Service) SendSignal(ctx context.Context, event string, payload any) error {
	s.mu.Lock()
	sig := s.sig
	key := s.key
	ready := s.ready
	s.mu.Unlock()
	if sig == nil || !ready {
		return ErrNotReady
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("session: marshal signal: %w", err)
	}
	sealed, err := crypto.SealSession(plaintext, key)
	if err != nil {
		return err
	}
	return sig.Publish(ctx, event, domain.RTCSignal{
		SessionID:  s.cfg.Self.ID,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
	})
}

func (s *Service) receiveSignal(event string, data []byte) {
	var ev domain.RTCSignal
	if err := json.Unmarshal(data, &ev); err != nil {
		s.log.Debug("dropping malformed signal", "event", event, "err", err)
		return
	}
	if ev.SessionID == s.cfg.Self.ID {
		return
	}

	s.mu.Lock()
	key := s.key
	ready := s.ready
	fn := s.onSignal[event]
	s.mu.Unlock()
	if !ready || fn == nil {
		return
	}

	plaintext, err := crypto.OpenSession(domain.EncryptedPayload{
		Ciphertext: ev.Ciphertext,
		Nonce:      ev.Nonce,
	}, key)
	if err != nil {
		s.log.Warn("dropping undecryptable signal", "event", event)
		return
	}
	fn(plaintext)
}

// OpenDataChannel returns a transfer channel tunnelled through the
// signaling connection, for peers without a direct transport.
func (s *Service) OpenDataChannel() (domain.DataChannel, error) {
	s.mu.Lock()
	sig := s.sig
	s.mu.Unlock()
	if sig == nil {
		return nil, ErrNotReady
	}
	return relay.NewSignalDataChannel(sig), nil
}

// NewSender binds a transfer sender to the session key and the given data
// channel.
func (s *Service) NewSender(ch domain.DataChannel) (*transfer.Sender, error) {
	s.mu.Lock()
	key := s.key
	ready := s.ready
	s.mu.Unlock()
	if !ready {
		return nil, ErrNotReady
	}
	return transfer.NewSender(ch, key, s.log), nil
}

// AttachReceiver binds a transfer receiver to the session key and routes
// the channel's inbound frames into it.
func (s *Service) AttachReceiver(ch domain.DataChannel) (*transfer.Receiver, error) {
	s.mu.Lock()
	key := s.key
	ready := s.ready
	s.mu.Unlock()
	if !ready {
		return nil, ErrNotReady
	}
	r := transfer.NewReceiver(key, s.log)
	ch.OnFrame(r.HandleFrame)
	return r, nil
}

// Leave tears the visit down: leave broadcast, occupancy decrement, destroy
// at zero, and a full wipe of local key material.
func (s *Service) Leave(ctx context.Context) {
	s.mu.Lock()
	rooms := s.rooms
	s.mu.Unlock()
	if rooms != nil {
		rooms.Leave(ctx)
	}
	s.invalidate()
}

// Beacon is the teardown-path leave signal for abrupt exits.
func (s *Service) Beacon() {
	s.mu.Lock()
	rooms := s.rooms
	s.mu.Unlock()
	if rooms != nil {
		rooms.Beacon()
	}
}
