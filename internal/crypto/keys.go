package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"veilroom/internal/domain"
	"veilroom/internal/util/wipe"
)

// GenerateEphemeral returns a fresh box keypair. One is generated per
// connection attempt and never reused across room visits.
func GenerateEphemeral() (domain.EphemeralKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return domain.EphemeralKeyPair{}, fmt.Errorf("%w: %v", domain.ErrCryptoUnavailable, err)
	}
	return domain.EphemeralKeyPair{Public: *pub, Private: *priv}, nil
}

// SharedSecret precomputes the shared session key from the peer's public key
// and our private key. Symmetric: both peers derive byte-identical output
// from complementary pairs.
func SharedSecret(peer domain.BoxPublic, mine domain.BoxPrivate) domain.SessionKey {
	var shared [32]byte
	pub, priv := [32]byte(peer), [32]byte(mine)
	box.Precompute(&shared, &pub, &priv)
	return domain.SessionKey(shared)
}

// WipeKeyPair zeroes the private half of an ephemeral keypair.
func WipeKeyPair(kp *domain.EphemeralKeyPair) {
	if kp == nil {
		return
	}
	wipe.Bytes(kp.Private[:])
}

// WipeSessionKey zeroes a shared session key.
func WipeSessionKey(k *domain.SessionKey) {
	if k == nil {
		return
	}
	wipe.Bytes(k[:])
}
