package domain

import "fmt"

// BoxPublic is a NaCl box (Curve25519) public key.
type BoxPublic [32]byte

func (p BoxPublic) Slice() []byte { return p[:] }

// BoxPrivate is a NaCl box private key.
type BoxPrivate [32]byte

func (k BoxPrivate) Slice() []byte { return k[:] }

// SessionKey is a precomputed shared session key. It exists only while both
// peers are present and is wiped on disconnect.
type SessionKey [32]byte

func (k SessionKey) Slice() []byte { return k[:] }

// AuthKey is the password-derived key sent (hashed) to the server.
type AuthKey [32]byte

func (k AuthKey) Slice() []byte { return k[:] }

// EncryptionSeed is the password-derived key that never leaves the client.
type EncryptionSeed [32]byte

func (k EncryptionSeed) Slice() []byte { return k[:] }

// MustBoxPublic converts a raw slice into a BoxPublic, panicking on bad length.
// Wire-facing code must validate lengths before calling this.
func MustBoxPublic(b []byte) BoxPublic {
	if len(b) != 32 {
		panic(fmt.Errorf("box public: want 32 bytes, got %d", len(b)))
	}
	var out BoxPublic
	copy(out[:], b)
	return out
}

// RoomCredential is the pair of independent keys derived from
// (password, room id). AuthKey is one-way hashed before it is ever
// transmitted; EncryptionSeed is held only in volatile memory.
type RoomCredential struct {
	AuthKey        AuthKey
	EncryptionSeed EncryptionSeed
}

// EphemeralKeyPair is a fresh box keypair generated per connection attempt.
// It is independent of the room credential and must be wiped on disconnect.
type EphemeralKeyPair struct {
	Public  BoxPublic
	Private BoxPrivate
}
