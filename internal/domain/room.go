package domain

import (
	"errors"
	"time"
)

// RoomStatus is the server-visible lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomActive    RoomStatus = "active"
	RoomDestroyed RoomStatus = "destroyed"
)

// RoomTTL is the dead-room safety expiry, evaluated lazily on status checks.
const RoomTTL = 24 * time.Hour

// RoomState is the server's view of a room. The server stores only the
// auth-key hash and counts; it never holds key material.
type RoomState struct {
	ID               string     `json:"id"`
	AuthKeyHash      string     `json:"-"`
	Status           RoomStatus `json:"status"`
	ParticipantCount int        `json:"participantCount"`
	ExpiresAt        time.Time  `json:"expiresAt"`
}

// Member is one participant's presence record: the attribute set each
// participant publishes on the signaling channel.
type Member struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey []byte `json:"publicKey,omitempty"`
	JoinedAt  int64  `json:"joinedAt"`
}

// Validate checks a presence record at the channel boundary before the
// occupancy state machine trusts it.
func (m Member) Validate() error {
	if m.ID == "" {
		return errors.New("presence member: empty id")
	}
	if m.JoinedAt <= 0 {
		return errors.New("presence member: missing join timestamp")
	}
	if len(m.PublicKey) != 0 && len(m.PublicKey) != 32 {
		return errors.New("presence member: malformed public key")
	}
	return nil
}

// Before reports whether m joined before other, tie-broken by ID so every
// peer orders identical snapshots the same way.
func (m Member) Before(other Member) bool {
	if m.JoinedAt != other.JoinedAt {
		return m.JoinedAt < other.JoinedAt
	}
	return m.ID < other.ID
}
