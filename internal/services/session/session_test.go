package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"veilroom/internal/crypto"
	"veilroom/internal/domain"
	"veilroom/internal/protocol/transfer"
	"veilroom/internal/relay/relaytest"
	"veilroom/internal/services/message"
	"veilroom/internal/services/session"
)

// fakeAPI records lifecycle calls and approves everything.
type fakeAPI struct {
	mu        sync.Mutex
	created   []string
	destroyed []string
	occupancy []int
	beacons   int
}

func (f *fakeAPI) CreateRoom(_ context.Context, roomID, _ string) (domain.RoomState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, roomID)
	return domain.RoomState{ID: roomID, Status: domain.RoomWaiting}, nil
}

func (f *fakeAPI) Authorize(_ context.Context, roomID, _ string) (domain.RoomState, error) {
	return domain.RoomState{ID: roomID, Status: domain.RoomWaiting}, nil
}

func (f *fakeAPI) SetOccupancy(_ context.Context, _ string, count int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.occupancy = append(f.occupancy, count)
	return nil
}

func (f *fakeAPI) DestroyRoom(_ context.Context, roomID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, roomID)
	return nil
}

func (f *fakeAPI) LeaveBeacon(_, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beacons++
}

var _ domain.RoomAPI = (*fakeAPI)(nil)

// insecureSignaler downgrades a signaler's transport report.
type insecureSignaler struct{ domain.Signaler }

func (insecureSignaler) Secure() bool { return false }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSession(t *testing.T, hub *relaytest.Hub, api domain.RoomAPI, id, name string) *session.Service {
	t.Helper()
	return session.New(session.Config{
		RoomID:   "K7X2-M9P4",
		Password: "correct horse battery staple",
		Self:     domain.Member{ID: id, Name: name, JoinedAt: joinStamp(id)},
		Dial: func(context.Context, string) (domain.Signaler, error) {
			return hub.Join(), nil
		},
		API: api,
		Log: testLogger(),
	})
}

// joinStamp gives each session a distinct join time so eviction ordering is
// deterministic in tests.
func joinStamp(id string) int64 {
	return 1_700_000_000_000 + int64(id[len(id)-1])
}

func TestTwoPartySession(t *testing.T) {
	hub := relaytest.NewHub()
	api := &fakeAPI{}
	ctx := context.Background()

	alice := newSession(t, hub, api, "sess-a", "Alice")
	bob := newSession(t, hub, api, "sess-b", "Bob")

	if err := alice.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := alice.Join(ctx); err != nil {
		t.Fatalf("alice Join: %v", err)
	}
	if alice.Ready() {
		t.Fatal("session ready with no peer")
	}

	if err := bob.Join(ctx); err != nil {
		t.Fatalf("bob Join: %v", err)
	}
	if !alice.Ready() || !bob.Ready() {
		t.Fatalf("ready = %v/%v, want true/true", alice.Ready(), bob.Ready())
	}

	got := make(chan message.Message, 1)
	bob.OnMessage(func(m message.Message) { got <- m })

	sent, err := alice.SendMessage(ctx, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !sent.Mine {
		t.Fatal("local echo not marked mine")
	}

	select {
	case m := <-got:
		if m.Text != "hello" {
			t.Fatalf("text = %q, want %q", m.Text, "hello")
		}
		if m.SenderName != "Alice" {
			t.Fatalf("sender = %q, want Alice", m.SenderName)
		}
	default:
		t.Fatal("message never delivered")
	}
}

func TestJoinRefusesInsecureTransport(t *testing.T) {
	hub := relaytest.NewHub()
	api := &fakeAPI{}

	svc := session.New(session.Config{
		RoomID:   "K7X2-M9P4",
		Password: "pw",
		Self:     domain.Member{ID: "sess-a", Name: "Alice", JoinedAt: 1},
		Dial: func(context.Context, string) (domain.Signaler, error) {
			return insecureSignaler{hub.Join()}, nil
		},
		API: api,
		Log: testLogger(),
	})

	if err := svc.Join(context.Background()); !errors.Is(err, domain.ErrInsecureContext) {
		t.Fatalf("error = %v, want ErrInsecureContext", err)
	}
}

func TestSealedSignalsRoundTrip(t *testing.T) {
	hub := relaytest.NewHub()
	api := &fakeAPI{}
	ctx := context.Background()

	alice := newSession(t, hub, api, "sess-a", "Alice")
	bob := newSession(t, hub, api, "sess-b", "Bob")
	if err := alice.Join(ctx); err != nil {
		t.Fatalf("alice Join: %v", err)
	}

	type offer struct {
		SDP string `json:"sdp"`
	}
	got := make(chan []byte, 1)
	bob.OnSignal(domain.EventRTCOffer, func(data []byte) { got <- data })

	if err := bob.Join(ctx); err != nil {
		t.Fatalf("bob Join: %v", err)
	}

	// The relay side of the frame must be opaque: watch the raw event.
	var raw []byte
	spy := hub.Join()
	spy.Handle(domain.EventRTCOffer, func(data []byte) { raw = data })

	if err := alice.SendSignal(ctx, domain.EventRTCOffer, offer{SDP: "v=0 candidate"}); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}

	select {
	case data := <-got:
		if string(data) != `{"sdp":"v=0 candidate"}` {
			t.Fatalf("plaintext = %s", data)
		}
	default:
		t.Fatal("signal never delivered")
	}
	if raw == nil {
		t.Fatal("spy saw no frame")
	}
	if string(raw) == `{"sdp":"v=0 candidate"}` {
		t.Fatal("signal left the sender unsealed")
	}
}

func TestSendBeforeReadyFails(t *testing.T) {
	hub := relaytest.NewHub()
	api := &fakeAPI{}
	ctx := context.Background()

	alice := newSession(t, hub, api, "sess-a", "Alice")
	if err := alice.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if _, err := alice.SendMessage(ctx, "too early"); !errors.Is(err, message.ErrNoSession) {
		t.Fatalf("error = %v, want ErrNoSession", err)
	}
	if err := alice.SendSignal(ctx, domain.EventRTCOffer, struct{}{}); !errors.Is(err, session.ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady", err)
	}
	if _, err := alice.NewSender(nil); !errors.Is(err, session.ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady", err)
	}
}

func TestPeerLeaveInvalidatesSession(t *testing.T) {
	hub := relaytest.NewHub()
	api := &fakeAPI{}
	ctx := context.Background()

	alice := newSession(t, hub, api, "sess-a", "Alice")
	bob := newSession(t, hub, api, "sess-b", "Bob")
	if err := alice.Join(ctx); err != nil {
		t.Fatalf("alice Join: %v", err)
	}
	if err := bob.Join(ctx); err != nil {
		t.Fatalf("bob Join: %v", err)
	}

	peerLeft := false
	alice.OnPeerLeft(func() { peerLeft = true })

	bob.Leave(ctx)

	if !peerLeft {
		t.Fatal("peer departure never surfaced")
	}
	if alice.Ready() {
		t.Fatal("session still ready after peer left")
	}
	if _, err := alice.SendMessage(ctx, "anyone there?"); !errors.Is(err, message.ErrNoSession) {
		t.Fatalf("error = %v, want ErrNoSession", err)
	}
	if bob.Ready() {
		t.Fatal("leaver still holds a session")
	}
}

// scriptedSignaler records outbound traffic and lets the test inject
// presence snapshots, standing in for a relay that can lose frames.
type scriptedSignaler struct {
	mu        sync.Mutex
	handlers  map[string][]func(data []byte)
	presence  []func(members []domain.Member)
	published map[string][][]byte
	trackErr  error
	closed    bool
}

func newScriptedSignaler() *scriptedSignaler {
	return &scriptedSignaler{
		handlers:  make(map[string][]func(data []byte)),
		published: make(map[string][][]byte),
	}
}

func (s *scriptedSignaler) Publish(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[event] = append(s.published[event], data)
	return nil
}

func (s *scriptedSignaler) Handle(event string, fn func(data []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], fn)
}

func (s *scriptedSignaler) Track(context.Context, domain.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackErr
}

func (s *scriptedSignaler) OnPresence(fn func(members []domain.Member)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, fn)
}

func (s *scriptedSignaler) Secure() bool { return true }

func (s *scriptedSignaler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSignaler) deliverPresence(members ...domain.Member) {
	s.mu.Lock()
	fns := append([]func([]domain.Member){}, s.presence...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(members)
	}
}

func (s *scriptedSignaler) lastPublished(event string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.published[event]
	if len(frames) == 0 {
		return nil, false
	}
	return frames[len(frames)-1], true
}

var _ domain.Signaler = (*scriptedSignaler)(nil)

func announcedPublic(t *testing.T, sig *scriptedSignaler) domain.BoxPublic {
	t.Helper()
	data, ok := sig.lastPublished(domain.EventKeyExchange)
	if !ok {
		t.Fatal("no key announcement on the wire")
	}
	var kex domain.KeyExchange
	if err := json.Unmarshal(data, &kex); err != nil {
		t.Fatalf("unmarshal key exchange: %v", err)
	}
	return domain.MustBoxPublic(kex.PublicKey)
}

// A peer can be swapped for another between two presence snapshots when the
// departure frame is lost. The session must drop the old secret and
// negotiate with the newcomer rather than stay latched on the dead key.
func TestPeerReplacementRekeysSession(t *testing.T) {
	api := &fakeAPI{}
	sig := newScriptedSignaler()
	self := domain.Member{ID: "self", Name: "Alice", JoinedAt: 1}

	svc := session.New(session.Config{
		RoomID:   "K7X2-M9P4",
		Password: "correct horse battery staple",
		Self:     self,
		Dial: func(context.Context, string) (domain.Signaler, error) {
			return sig, nil
		},
		API: api,
		Log: testLogger(),
	})
	ctx := context.Background()
	if err := svc.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}

	peerLeft := false
	svc.OnPeerLeft(func() { peerLeft = true })

	peerA, err := crypto.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	peerB, err := crypto.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	firstPublic := announcedPublic(t, sig)

	sig.deliverPresence(self,
		domain.Member{ID: "peer-a", Name: "Mallory", PublicKey: peerA.Public.Slice(), JoinedAt: 2})
	if !svc.Ready() {
		t.Fatal("no session after first peer")
	}
	staleKey := crypto.SharedSecret(firstPublic, peerA.Private)

	sig.deliverPresence(self,
		domain.Member{ID: "peer-b", Name: "Bob", PublicKey: peerB.Public.Slice(), JoinedAt: 3})

	if !peerLeft {
		t.Fatal("replacement did not surface as peer loss")
	}
	if !svc.Ready() {
		t.Fatal("session did not re-latch on the new peer")
	}
	if got, ok := svc.Peer(); !ok || got.ID != "peer-b" {
		t.Fatalf("peer = %+v ok=%v, want peer-b", got, ok)
	}

	// Traffic must seal under a secret the new peer shares, not the old one.
	if _, err := svc.SendMessage(ctx, "fresh start"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	data, ok := sig.lastPublished(domain.EventMessage)
	if !ok {
		t.Fatal("no message on the wire")
	}
	var wire domain.ChatMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	sealed := domain.EncryptedPayload{Ciphertext: wire.Ciphertext, Nonce: wire.Nonce}

	freshKey := crypto.SharedSecret(announcedPublic(t, sig), peerB.Private)
	plaintext, err := crypto.OpenSession(sealed, freshKey)
	if err != nil {
		t.Fatalf("new peer cannot open the message: %v", err)
	}
	if string(plaintext) != "fresh start" {
		t.Fatalf("plaintext = %q", plaintext)
	}
	if _, err := crypto.OpenSession(sealed, staleKey); err == nil {
		t.Fatal("message still opens under the departed peer's secret")
	}
}

func TestJoinUnwindsOnAttachFailure(t *testing.T) {
	api := &fakeAPI{}
	broken := newScriptedSignaler()
	broken.trackErr = errors.New("presence rejected")
	current := domain.Signaler(broken)

	svc := session.New(session.Config{
		RoomID:   "K7X2-M9P4",
		Password: "pw",
		Self:     domain.Member{ID: "self", Name: "Alice", JoinedAt: 1},
		Dial: func(context.Context, string) (domain.Signaler, error) {
			return current, nil
		},
		API: api,
		Log: testLogger(),
	})
	ctx := context.Background()

	if err := svc.Join(ctx); err == nil {
		t.Fatal("Join succeeded with failing presence")
	}
	if !broken.closed {
		t.Fatal("signaler left open after failed join")
	}

	// A retry over a healthy channel starts clean.
	healthy := newScriptedSignaler()
	current = healthy
	if err := svc.Join(ctx); err != nil {
		t.Fatalf("retry Join: %v", err)
	}
	if _, ok := healthy.lastPublished(domain.EventKeyExchange); !ok {
		t.Fatal("retry never announced a key")
	}
}

func TestFileTransferOverSession(t *testing.T) {
	hub := relaytest.NewHub()
	api := &fakeAPI{}
	ctx := context.Background()

	alice := newSession(t, hub, api, "sess-a", "Alice")
	bob := newSession(t, hub, api, "sess-b", "Bob")
	if err := alice.Join(ctx); err != nil {
		t.Fatalf("alice Join: %v", err)
	}
	if err := bob.Join(ctx); err != nil {
		t.Fatalf("bob Join: %v", err)
	}

	aliceCh, bobCh := relaytest.NewDataChannelPair()
	recv, err := bob.AttachReceiver(bobCh)
	if err != nil {
		t.Fatalf("AttachReceiver: %v", err)
	}
	send, err := alice.NewSender(aliceCh)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}

	done := make(chan transfer.Result, 1)
	recv.OnComplete(func(res transfer.Result) { done <- res })

	payload := make([]byte, 100_000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	f := transfer.File{Name: "sunset.png", MimeType: "image/png", Data: payload}
	if _, err := send.SendFile(ctx, f, nil); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	select {
	case res := <-done:
		if len(res.Data) != len(payload) {
			t.Fatalf("received %d bytes, want %d", len(res.Data), len(payload))
		}
		if res.FileName != "sunset.png" {
			t.Fatalf("name = %q, want sunset.png", res.FileName)
		}
	default:
		t.Fatal("transfer never completed")
	}
}
