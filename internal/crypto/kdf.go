package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"veilroom/internal/domain"
	"veilroom/internal/util/wipe"
)

const (
	// KDFIterations is the key-stretching work factor.
	KDFIterations = 100_000

	// saltPrefix scopes the salt to a room, so the same password yields
	// different keys in different rooms.
	saltPrefix = "veilroom/room/"
)

// DeriveCredential stretches (password, roomID) into the dual room
// credential: 64 bytes of PBKDF2-SHA256 output, the first half becoming the
// auth key and the second half the encryption seed. Deterministic, so both
// peers typing the same password converge on the same seed without ever
// exchanging it.
func DeriveCredential(password, roomID string) (domain.RoomCredential, error) {
	if err := probeRand(); err != nil {
		return domain.RoomCredential{}, fmt.Errorf("%w: %v", domain.ErrCryptoUnavailable, err)
	}
	okm := pbkdf2.Key([]byte(password), []byte(saltPrefix+roomID), KDFIterations, 64, sha256.New)
	var cred domain.RoomCredential
	copy(cred.AuthKey[:], okm[:32])
	copy(cred.EncryptionSeed[:], okm[32:])
	wipe.Bytes(okm)
	return cred, nil
}

// HashAuthKey returns the one-way digest of the auth key that is sent to the
// server for comparison. The server never sees the auth key itself.
func HashAuthKey(key domain.AuthKey) string {
	sum := sha256.Sum256(key[:])
	return hex.EncodeToString(sum[:])
}

// Checksum returns the hex SHA-256 digest of a whole payload. Transfers
// compute it over the pre-encryption bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// probeRand confirms the CSPRNG works before any key material depends on it.
func probeRand() error {
	var b [1]byte
	_, err := rand.Read(b[:])
	return err
}
