package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"veilroom/internal/domain"
)

const mutationTimeout = 5 * time.Second

// Service is the occupancy state machine for one participant's view of a
// room. Presence events drive it independently of message and transfer
// traffic.
type Service struct {
	sig      domain.Signaler
	api      domain.RoomAPI
	log      *slog.Logger
	roomID   string
	authHash string
	self     domain.Member

	mu      sync.Mutex
	peer    *domain.Member
	evicted bool
	left    bool

	onPeerKey  func(pub domain.BoxPublic)
	onPeerLeft func()
	onRoomFull func()
}

// New builds the state machine. authHash authorizes every server mutation;
// an entity that never derived the password cannot destroy the room.
func New(sig domain.Signaler, api domain.RoomAPI, roomID, authHash string, self domain.Member, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		sig:      sig,
		api:      api,
		log:      log,
		roomID:   roomID,
		authHash: authHash,
		self:     self,
	}
}

// OnPeerKey registers the presence-carried path into the handshake latch.
func (s *Service) OnPeerKey(fn func(pub domain.BoxPublic)) { s.onPeerKey = fn }

// OnPeerLeft fires when the count drops to exactly one. The session secret
// must be invalidated upstream; a returning peer starts a fresh handshake.
func (s *Service) OnPeerLeft(fn func()) { s.onPeerLeft = fn }

// OnRoomFull fires when this participant self-evicts.
func (s *Service) OnRoomFull(fn func()) { s.onRoomFull = fn }

// Attach subscribes to presence and leave events and publishes our own
// presence record.
func (s *Service) Attach(ctx context.Context) error {
	s.sig.OnPresence(s.handlePresence)
	s.sig.Handle(domain.EventUserLeft, s.handleUserLeft)
	return s.sig.Track(ctx, s.self)
}

// Peer returns the current peer, if any.
func (s *Service) Peer() (domain.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return domain.Member{}, false
	}
	return *s.peer, true
}

// Leave is the voluntary exit: best-effort leave broadcast, then an
// authorized occupancy decrement, destroying the room at zero.
func (s *Service) Leave(ctx context.Context) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.left = true
	peerPresent := s.peer != nil
	s.mu.Unlock()

	if err := s.sig.Publish(ctx, domain.EventUserLeft, domain.UserLeft{SessionID: s.self.ID}); err != nil {
		s.log.Debug("leave broadcast failed", "err", err)
	}
	if err := s.sig.Close(); err != nil {
		s.log.Debug("signaler close failed", "err", err)
	}

	remaining := 0
	if peerPresent {
		remaining = 1
	}
	if err := s.api.SetOccupancy(ctx, s.roomID, remaining, s.authHash); err != nil {
		s.log.Warn("occupancy decrement failed", "room", s.roomID, "err", err)
	}
	if remaining == 0 {
		if err := s.api.DestroyRoom(ctx, s.roomID, s.authHash); err != nil {
			s.log.Warn("room destroy failed", "room", s.roomID, "err", err)
		}
	}
}

// Beacon is the transport-independent leave signal for process teardown,
// fire-and-forget with the same authorization hash.
func (s *Service) Beacon() {
	s.api.LeaveBeacon(s.roomID, s.authHash)
}

func (s *Service) handlePresence(members []domain.Member) {
	valid := members[:0:0]
	for _, m := range members {
		if err := m.Validate(); err != nil {
			s.log.Warn("dropping malformed presence record", "err", err)
			continue
		}
		valid = append(valid, m)
	}

	s.mu.Lock()
	if s.evicted || s.left {
		s.mu.Unlock()
		return
	}

	if len(valid) > 2 {
		latest := valid[0]
		for _, m := range valid[1:] {
			if latest.Before(m) {
				latest = m
			}
		}
		if latest.ID == s.self.ID {
			s.evicted = true
			s.mu.Unlock()
			s.log.Info("room full, self-evicting", "room", s.roomID)
			_ = s.sig.Close()
			if s.onRoomFull != nil {
				s.onRoomFull()
			}
			return
		}
	}

	// The earliest-joined other occupant is the peer; any extra member is
	// about to self-evict and is ignored.
	var peer *domain.Member
	for i := range valid {
		m := valid[i]
		if m.ID == s.self.ID {
			continue
		}
		if peer == nil || m.Before(*peer) {
			peer = &m
		}
	}

	var newKey []byte
	peerLost := false
	switch {
	case peer != nil && s.peer == nil:
		s.peer = peer
		newKey = peer.PublicKey
	case peer != nil && s.peer.ID != peer.ID:
		// The peer was replaced between snapshots (the departure frame was
		// lost). The old session secret must die before the new key lands.
		s.peer = peer
		peerLost = true
		newKey = peer.PublicKey
	case peer == nil && s.peer != nil:
		s.peer = nil
		peerLost = true
	}
	count := min(len(valid), 2)
	s.mu.Unlock()

	if peerLost && s.onPeerLeft != nil {
		s.onPeerLeft()
	}
	if len(newKey) == 32 && s.onPeerKey != nil {
		s.onPeerKey(domain.MustBoxPublic(newKey))
	}

	ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
	defer cancel()
	if err := s.api.SetOccupancy(ctx, s.roomID, count, s.authHash); err != nil {
		s.log.Warn("occupancy sync failed", "room", s.roomID, "count", count, "err", err)
	}
}

func (s *Service) handleUserLeft(data []byte) {
	var ev domain.UserLeft
	if err := json.Unmarshal(data, &ev); err != nil {
		s.log.Debug("dropping malformed user_left", "err", err)
		return
	}
	s.mu.Lock()
	wasPeer := s.peer != nil && s.peer.ID == ev.SessionID
	if wasPeer {
		s.peer = nil
	}
	s.mu.Unlock()
	if wasPeer && s.onPeerLeft != nil {
		s.onPeerLeft()
	}
}
