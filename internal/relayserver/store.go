package relayserver

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"veilroom/internal/domain"
)

// ErrRoomExists rejects creating over a live room.
var ErrRoomExists = errors.New("relayserver: room already exists")

// ErrNotFound means no such room.
var ErrNotFound = errors.New("relayserver: room not found")

// record wraps a room with the reason it was destroyed, so an expired room
// surfaces as a distinct user-facing state.
type record struct {
	state   domain.RoomState
	expired bool
}

// Store is the in-memory room table. The 24-hour dead-room expiry is
// evaluated lazily on every lookup; there is no active timer.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*record

	now func() time.Time
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*record), now: time.Now}
}

// Create registers a room in the waiting state.
func (s *Store) Create(id, authKeyHash string) (domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok {
		s.expireLocked(r)
		if r.state.Status != domain.RoomDestroyed {
			return domain.RoomState{}, ErrRoomExists
		}
	}
	r := &record{state: domain.RoomState{
		ID:          id,
		AuthKeyHash: authKeyHash,
		Status:      domain.RoomWaiting,
		ExpiresAt:   s.now().Add(domain.RoomTTL),
	}}
	s.rooms[id] = r
	return r.state, nil
}

// Authorize compares the hash against stored state and returns the room if
// it is joinable. Terminal states come back as distinct errors.
func (s *Store) Authorize(id, authKeyHash string) (domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookupLocked(id, authKeyHash)
	if err != nil {
		return domain.RoomState{}, err
	}
	if r.state.ParticipantCount >= 2 {
		return domain.RoomState{}, domain.ErrRoomFull
	}
	return r.state, nil
}

// SetOccupancy applies a validated, idempotent count update. A positive
// count moves a waiting room to active.
func (s *Store) SetOccupancy(id string, count int, authKeyHash string) error {
	if count < 0 {
		count = 0
	}
	if count > 2 {
		count = 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookupLocked(id, authKeyHash)
	if err != nil {
		return err
	}
	r.state.ParticipantCount = count
	if count > 0 {
		r.state.Status = domain.RoomActive
	}
	return nil
}

// Destroy marks the room destroyed and forgets its occupancy. Destroying
// an already-destroyed room is a no-op.
func (s *Store) Destroy(id, authKeyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookupLocked(id, authKeyHash)
	if err != nil {
		if errors.Is(err, domain.ErrRoomDestroyed) || errors.Is(err, domain.ErrRoomExpired) {
			return nil
		}
		return err
	}
	r.state.Status = domain.RoomDestroyed
	r.state.ParticipantCount = 0
	return nil
}

// Beacon is the teardown-path decrement: exactly one per call, destroying
// the room at zero, and a harmless no-op after the room is already gone or
// for a mismatched hash.
func (s *Store) Beacon(id, authKeyHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookupLocked(id, authKeyHash)
	if err != nil {
		return
	}
	if r.state.ParticipantCount > 0 {
		r.state.ParticipantCount--
	}
	if r.state.ParticipantCount == 0 {
		r.state.Status = domain.RoomDestroyed
	}
}

// Snapshot returns the room without authorization, for the hub's
// subscription checks.
func (s *Store) Snapshot(id string) (domain.RoomState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return domain.RoomState{}, false
	}
	s.expireLocked(r)
	return r.state, true
}

func (s *Store) lookupLocked(id, authKeyHash string) (*record, error) {
	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.expireLocked(r)
	if r.state.Status == domain.RoomDestroyed {
		if r.expired {
			return nil, domain.ErrRoomExpired
		}
		return nil, domain.ErrRoomDestroyed
	}
	if subtle.ConstantTimeCompare([]byte(r.state.AuthKeyHash), []byte(authKeyHash)) != 1 {
		return nil, domain.ErrUnauthorized
	}
	return r, nil
}

// expireLocked applies the lazy dead-room timer: a room that was never
// visited and outlived its TTL is destroyed in place.
func (s *Store) expireLocked(r *record) {
	if r.state.Status == domain.RoomWaiting && s.now().After(r.state.ExpiresAt) {
		r.state.Status = domain.RoomDestroyed
		r.expired = true
	}
}
