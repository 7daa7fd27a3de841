package relayserver

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"veilroom/internal/domain"
	"veilroom/internal/relay"
)

// sendBuffer is the per-subscriber outbound queue. A subscriber that falls
// this far behind starts losing frames rather than stalling the room.
const sendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans signaling frames out to room subscribers. Event frames reach
// every subscriber except the sender; presence snapshots reach everyone.
type Hub struct {
	store   *Store
	log     *slog.Logger
	metrics *Metrics

	mu    sync.Mutex
	rooms map[string]map[*subscriber]struct{}
}

func NewHub(store *Store, metrics *Metrics, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		store:   store,
		log:     log,
		metrics: metrics,
		rooms:   make(map[string]map[*subscriber]struct{}),
	}
}

type subscriber struct {
	conn    *websocket.Conn
	out     chan relay.Frame
	session string

	mu     sync.Mutex
	member *domain.Member
	gone   bool
}

// ServeWS upgrades an authorized request into a room subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, roomID string) {
	session := r.URL.Query().Get("session")
	hash := r.URL.Query().Get("hash")
	if _, err := h.store.Authorize(roomID, hash); err != nil {
		writeAPIError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "room", roomID, "err", err)
		return
	}

	sub := &subscriber{conn: conn, out: make(chan relay.Frame, sendBuffer), session: session}
	h.add(roomID, sub)
	h.metrics.Subscribers.Inc()
	h.log.Info("signaling subscriber joined", "room", roomID, "session", session)

	go sub.writeLoop()
	h.readLoop(roomID, sub)

	h.remove(roomID, sub)
	h.metrics.Subscribers.Dec()
	h.broadcastPresence(roomID)
	h.log.Info("signaling subscriber left", "room", roomID, "session", session)
}

func (h *Hub) readLoop(roomID string, sub *subscriber) {
	defer sub.conn.Close()
	for {
		var f relay.Frame
		if err := sub.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Kind {
		case relay.FrameEvent:
			h.relayEvent(roomID, sub, f)
		case relay.FrameTrack:
			if f.Member == nil {
				continue
			}
			sub.mu.Lock()
			sub.member = f.Member
			sub.mu.Unlock()
			h.broadcastPresence(roomID)
		default:
			h.log.Debug("dropping unknown frame kind", "kind", f.Kind)
		}
	}
}

// relayEvent forwards an opaque event frame to every other subscriber.
func (h *Hub) relayEvent(roomID string, from *subscriber, f relay.Frame) {
	for _, sub := range h.subscribers(roomID) {
		if sub == from {
			continue
		}
		sub.push(f)
		h.metrics.SignalsRelayed.Inc()
	}
}

func (h *Hub) broadcastPresence(roomID string) {
	subs := h.subscribers(roomID)
	members := make([]domain.Member, 0, len(subs))
	for _, sub := range subs {
		sub.mu.Lock()
		if sub.member != nil {
			members = append(members, *sub.member)
		}
		sub.mu.Unlock()
	}
	f := relay.Frame{Kind: relay.FramePresence, Members: members}
	for _, sub := range subs {
		sub.push(f)
	}
}

func (h *Hub) add(roomID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[*subscriber]struct{})
		h.rooms[roomID] = room
	}
	room[sub] = struct{}{}
}

func (h *Hub) remove(roomID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[roomID]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
	sub.mu.Lock()
	sub.gone = true
	sub.mu.Unlock()
	close(sub.out)
}

func (h *Hub) subscribers(roomID string) []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*subscriber, 0, len(h.rooms[roomID]))
	for sub := range h.rooms[roomID] {
		out = append(out, sub)
	}
	return out
}

// push queues a frame, dropping it if the subscriber is gone or too far
// behind to keep up.
func (s *subscriber) push(f relay.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return
	}
	select {
	case s.out <- f:
	default:
	}
}

func (s *subscriber) writeLoop() {
	for f := range s.out {
		if err := s.conn.WriteJSON(f); err != nil {
			return
		}
	}
}
