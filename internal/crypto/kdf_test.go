package crypto_test

import (
	"bytes"
	"testing"

	"github.com/go-test/deep"

	"veilroom/internal/crypto"
)

func TestDeriveCredentialDeterministic(t *testing.T) {
	a, err := crypto.DeriveCredential("K7X2-M9P4", "r1")
	if err != nil {
		t.Fatalf("DeriveCredential: %v", err)
	}
	b, err := crypto.DeriveCredential("K7X2-M9P4", "r1")
	if err != nil {
		t.Fatalf("DeriveCredential: %v", err)
	}
	if diff := deep.Equal(a, b); diff != nil {
		t.Fatalf("same inputs produced different credentials: %v", diff)
	}
}

func TestDeriveCredentialRoomScoped(t *testing.T) {
	a, err := crypto.DeriveCredential("K7X2-M9P4", "r1")
	if err != nil {
		t.Fatalf("DeriveCredential: %v", err)
	}
	b, err := crypto.DeriveCredential("K7X2-M9P4", "r2")
	if err != nil {
		t.Fatalf("DeriveCredential: %v", err)
	}
	if a.AuthKey == b.AuthKey {
		t.Fatal("same password in different rooms yielded the same auth key")
	}
	if a.EncryptionSeed == b.EncryptionSeed {
		t.Fatal("same password in different rooms yielded the same seed")
	}
}

func TestDeriveCredentialSplitsHalves(t *testing.T) {
	cred, err := crypto.DeriveCredential("pw", "room")
	if err != nil {
		t.Fatalf("DeriveCredential: %v", err)
	}
	if bytes.Equal(cred.AuthKey[:], cred.EncryptionSeed[:]) {
		t.Fatal("auth key and encryption seed are identical")
	}
}

func TestHashAuthKeyStable(t *testing.T) {
	cred, err := crypto.DeriveCredential("pw", "room")
	if err != nil {
		t.Fatalf("DeriveCredential: %v", err)
	}
	h1 := crypto.HashAuthKey(cred.AuthKey)
	h2 := crypto.HashAuthKey(cred.AuthKey)
	if h1 != h2 {
		t.Fatalf("hash not stable: %q vs %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("want 64 hex chars, got %d", len(h1))
	}
	// The hash must not leak the key itself.
	if bytes.Contains([]byte(h1), cred.AuthKey[:]) {
		t.Fatal("hash contains raw key bytes")
	}
}
