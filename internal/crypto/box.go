package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"veilroom/internal/domain"
)

// NonceBytes is the NaCl box/secretbox nonce length.
const NonceBytes = 24

// newNonce draws a fresh random nonce. Every seal calls this; nonces are
// never reused under the same key.
func newNonce() (nonce [NonceBytes]byte, err error) {
	if _, err = rand.Read(nonce[:]); err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrCryptoUnavailable, err)
	}
	return nonce, err
}

// SealAsym encrypts point-to-point with the peer's public key and our
// private key.
func SealAsym(plaintext []byte, peer domain.BoxPublic, mine domain.BoxPrivate) (domain.EncryptedPayload, error) {
	nonce, err := newNonce()
	if err != nil {
		return domain.EncryptedPayload{}, err
	}
	pub, priv := [32]byte(peer), [32]byte(mine)
	ct := box.Seal(nil, plaintext, &nonce, &pub, &priv)
	return domain.EncryptedPayload{Ciphertext: ct, Nonce: nonce[:]}, nil
}

// OpenAsym reverses SealAsym. Any tampering or key mismatch returns
// domain.ErrDecryptionFailed, never garbled plaintext.
func OpenAsym(p domain.EncryptedPayload, peer domain.BoxPublic, mine domain.BoxPrivate) ([]byte, error) {
	nonce, err := nonceFrom(p.Nonce)
	if err != nil {
		return nil, err
	}
	pub, priv := [32]byte(peer), [32]byte(mine)
	pt, ok := box.Open(nil, p.Ciphertext, &nonce, &pub, &priv)
	if !ok {
		return nil, domain.ErrDecryptionFailed
	}
	return pt, nil
}

// SealSession encrypts under a precomputed shared session key.
func SealSession(plaintext []byte, key domain.SessionKey) (domain.EncryptedPayload, error) {
	nonce, err := newNonce()
	if err != nil {
		return domain.EncryptedPayload{}, err
	}
	k := [32]byte(key)
	ct := box.SealAfterPrecomputation(nil, plaintext, &nonce, &k)
	return domain.EncryptedPayload{Ciphertext: ct, Nonce: nonce[:]}, nil
}

// OpenSession reverses SealSession.
func OpenSession(p domain.EncryptedPayload, key domain.SessionKey) ([]byte, error) {
	nonce, err := nonceFrom(p.Nonce)
	if err != nil {
		return nil, err
	}
	k := [32]byte(key)
	pt, ok := box.OpenAfterPrecomputation(nil, p.Ciphertext, &nonce, &k)
	if !ok {
		return nil, domain.ErrDecryptionFailed
	}
	return pt, nil
}

// SealSym encrypts under a pre-shared symmetric key (the session key for
// file chunks, or the password-derived seed).
func SealSym(plaintext []byte, key [32]byte) (domain.EncryptedPayload, error) {
	nonce, err := newNonce()
	if err != nil {
		return domain.EncryptedPayload{}, err
	}
	ct := secretbox.Seal(nil, plaintext, &nonce, &key)
	return domain.EncryptedPayload{Ciphertext: ct, Nonce: nonce[:]}, nil
}

// OpenSym reverses SealSym.
func OpenSym(p domain.EncryptedPayload, key [32]byte) ([]byte, error) {
	nonce, err := nonceFrom(p.Nonce)
	if err != nil {
		return nil, err
	}
	pt, ok := secretbox.Open(nil, p.Ciphertext, &nonce, &key)
	if !ok {
		return nil, domain.ErrDecryptionFailed
	}
	return pt, nil
}

func nonceFrom(b []byte) (nonce [NonceBytes]byte, err error) {
	if len(b) != NonceBytes {
		return nonce, domain.ErrDecryptionFailed
	}
	copy(nonce[:], b)
	return nonce, nil
}
