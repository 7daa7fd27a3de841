package handshake

import (
	"sync"

	"veilroom/internal/crypto"
	"veilroom/internal/domain"
)

// State tracks one connection attempt.
type State int

const (
	StateIdle State = iota
	StateKeypairGenerated
	StateOfferSent
	StateAwaitingOffer
	StateSecretComputed
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateKeypairGenerated:
		return "keypair_generated"
	case StateOfferSent:
		return "offer_sent"
	case StateAwaitingOffer:
		return "awaiting_offer"
	case StateSecretComputed:
		return "secret_computed"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Handshake is the per-connection key-exchange state machine. Safe for
// concurrent use: the two delivery paths for the peer key may race.
type Handshake struct {
	mu     sync.Mutex
	state  State
	keys   domain.EphemeralKeyPair
	secret domain.SessionKey
}

func New() *Handshake {
	return &Handshake{}
}

// Begin generates a fresh ephemeral keypair. secure reports whether the
// signaling transport is authenticated; running the exchange over an
// unauthenticated transport defeats forward secrecy against active
// attackers, so Begin refuses with ErrInsecureContext.
func (h *Handshake) Begin(secure bool) error {
	if !secure {
		return domain.ErrInsecureContext
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateIdle {
		return nil
	}
	kp, err := crypto.GenerateEphemeral()
	if err != nil {
		return err
	}
	h.keys = kp
	h.state = StateKeypairGenerated
	return nil
}

// LocalPublic returns the public key to broadcast and attach to presence.
func (h *Handshake) LocalPublic() domain.BoxPublic {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.keys.Public
}

// MarkOfferSent records that our key has been broadcast (initiator path).
func (h *Handshake) MarkOfferSent() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateKeypairGenerated {
		h.state = StateOfferSent
	}
}

// MarkAwaitingOffer records the responder path.
func (h *Handshake) MarkAwaitingOffer() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateKeypairGenerated {
		h.state = StateAwaitingOffer
	}
}

// PeerKey delivers the peer's ephemeral public key. The first delivery
// computes the shared secret and latches the state machine; every later
// delivery is ignored, whichever path it came through. Returns the session
// key and whether this call was the one that latched. The caller confirms
// the transition to ready once the key is installed downstream.
func (h *Handshake) PeerKey(pub domain.BoxPublic) (domain.SessionKey, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateReady || h.state == StateSecretComputed {
		return domain.SessionKey{}, false
	}
	if h.state == StateIdle {
		// No local keypair yet; nothing to combine with.
		return domain.SessionKey{}, false
	}
	if pub == h.keys.Public {
		// Our own broadcast reflected back; not a peer.
		return domain.SessionKey{}, false
	}
	h.secret = crypto.SharedSecret(pub, h.keys.Private)
	h.state = StateSecretComputed
	return h.secret, true
}

// Confirm marks the computed secret as live: the caller has armed its
// channels with the key.
func (h *Handshake) Confirm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateSecretComputed {
		h.state = StateReady
	}
}

// SessionKey returns the shared secret once it has been computed.
func (h *Handshake) SessionKey() (domain.SessionKey, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady && h.state != StateSecretComputed {
		return domain.SessionKey{}, false
	}
	return h.secret, true
}

// Ready reports whether the shared secret has been computed.
func (h *Handshake) Ready() bool {
	_, ok := h.SessionKey()
	return ok
}

// State returns the current state, for logging.
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Reset wipes all key material and returns to idle. The next connection
// attempt starts from scratch; a stale secret is never resumed.
func (h *Handshake) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	crypto.WipeKeyPair(&h.keys)
	crypto.WipeSessionKey(&h.secret)
	h.keys = domain.EphemeralKeyPair{}
	h.secret = domain.SessionKey{}
	h.state = StateIdle
}
