package handshake_test

import (
	"errors"
	"sync"
	"testing"

	"veilroom/internal/domain"
	"veilroom/internal/protocol/handshake"
)

func begin(t *testing.T) *handshake.Handshake {
	t.Helper()
	h := handshake.New()
	if err := h.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return h
}

func TestRefusesInsecureContext(t *testing.T) {
	h := handshake.New()
	err := h.Begin(false)
	if !errors.Is(err, domain.ErrInsecureContext) {
		t.Fatalf("want ErrInsecureContext, got %v", err)
	}
	if h.State() != handshake.StateIdle {
		t.Fatalf("state advanced despite refusal: %v", h.State())
	}
}

func TestTwoPartySymmetry(t *testing.T) {
	alice := begin(t)
	bob := begin(t)

	keyA, latched := alice.PeerKey(bob.LocalPublic())
	if !latched {
		t.Fatal("alice did not latch on first peer key")
	}
	keyB, latched := bob.PeerKey(alice.LocalPublic())
	if !latched {
		t.Fatal("bob did not latch on first peer key")
	}
	if keyA != keyB {
		t.Fatal("peers derived different session keys")
	}
	if !alice.Ready() || !bob.Ready() {
		t.Fatal("both peers should be ready")
	}
}

func TestSecondKeyIgnoredAfterLatch(t *testing.T) {
	alice := begin(t)
	bob := begin(t)
	eve := begin(t)

	want, latched := alice.PeerKey(bob.LocalPublic())
	if !latched {
		t.Fatal("first key did not latch")
	}

	// A rejected third party broadcasts its key later; it must not
	// desynchronize the established pair.
	if _, latched := alice.PeerKey(eve.LocalPublic()); latched {
		t.Fatal("third-party key recomputed the secret")
	}
	got, ok := alice.SessionKey()
	if !ok || got != want {
		t.Fatal("session key changed after a duplicate delivery")
	}
}

func TestDuplicateDeliveryIdempotent(t *testing.T) {
	alice := begin(t)
	bob := begin(t)

	// Same key through the broadcast path, then again via presence.
	if _, latched := alice.PeerKey(bob.LocalPublic()); !latched {
		t.Fatal("first delivery did not latch")
	}
	if _, latched := alice.PeerKey(bob.LocalPublic()); latched {
		t.Fatal("second delivery of the same key latched again")
	}
}

func TestOwnKeyReflectedIsIgnored(t *testing.T) {
	alice := begin(t)
	if _, latched := alice.PeerKey(alice.LocalPublic()); latched {
		t.Fatal("latched on our own reflected broadcast")
	}
}

func TestPeerKeyBeforeBeginIgnored(t *testing.T) {
	h := handshake.New()
	other := begin(t)
	if _, latched := h.PeerKey(other.LocalPublic()); latched {
		t.Fatal("latched with no local keypair")
	}
}

func TestConvergentPathsRaceSafely(t *testing.T) {
	alice := begin(t)
	bob := begin(t)
	peer := bob.LocalPublic()

	var wg sync.WaitGroup
	latches := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, latched := alice.PeerKey(peer)
			latches <- latched
		}()
	}
	wg.Wait()
	close(latches)

	n := 0
	for latched := range latches {
		if latched {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("want exactly one latch across racing paths, got %d", n)
	}
}

func TestSecretComputedThenConfirmed(t *testing.T) {
	alice := begin(t)
	bob := begin(t)

	if _, latched := alice.PeerKey(bob.LocalPublic()); !latched {
		t.Fatal("first key did not latch")
	}
	if alice.State() != handshake.StateSecretComputed {
		t.Fatalf("state = %v, want secret_computed", alice.State())
	}
	if _, ok := alice.SessionKey(); !ok {
		t.Fatal("computed secret not readable before confirm")
	}

	alice.Confirm()
	if alice.State() != handshake.StateReady {
		t.Fatalf("state = %v, want ready", alice.State())
	}
	alice.Confirm()
	if alice.State() != handshake.StateReady {
		t.Fatal("repeated confirm moved the state")
	}
}

func TestResponderPathLatches(t *testing.T) {
	alice := begin(t)
	bob := begin(t)

	// The peer's offer arrived before we broadcast ours.
	alice.MarkAwaitingOffer()
	if alice.State() != handshake.StateAwaitingOffer {
		t.Fatalf("state = %v, want awaiting_offer", alice.State())
	}

	keyA, latched := alice.PeerKey(bob.LocalPublic())
	if !latched {
		t.Fatal("responder did not latch")
	}
	bob.MarkOfferSent()
	keyB, latched := bob.PeerKey(alice.LocalPublic())
	if !latched {
		t.Fatal("initiator did not latch")
	}
	if keyA != keyB {
		t.Fatal("responder and initiator derived different keys")
	}
}

func TestResetStartsFromScratch(t *testing.T) {
	alice := begin(t)
	bob := begin(t)
	first, _ := alice.PeerKey(bob.LocalPublic())

	alice.Reset()
	if alice.State() != handshake.StateIdle {
		t.Fatalf("want idle after reset, got %v", alice.State())
	}
	if _, ok := alice.SessionKey(); ok {
		t.Fatal("session key survived reset")
	}

	// A new visit generates fresh keys and a fresh secret.
	if err := alice.Begin(true); err != nil {
		t.Fatalf("Begin after reset: %v", err)
	}
	second, latched := alice.PeerKey(bob.LocalPublic())
	if !latched {
		t.Fatal("did not latch after reset")
	}
	if first == second {
		t.Fatal("secret was resumed across visits")
	}
}

func TestFreshKeypairPerVisit(t *testing.T) {
	h := handshake.New()
	if err := h.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	first := h.LocalPublic()
	h.Reset()
	if err := h.Begin(true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if h.LocalPublic() == first {
		t.Fatal("keypair reused across visits")
	}
}
