package relayserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veilroom/internal/domain"
	"veilroom/internal/relay"
)

// Server wires the room store and signaling hub behind one router.
type Server struct {
	store   *Store
	hub     *Hub
	log     *slog.Logger
	metrics *Metrics
}

// New builds a server with a fresh store, hub and metrics registry.
func New(log *slog.Logger, reg *prometheus.Registry) *Server {
	if log == nil {
		log = slog.Default()
	}
	store := NewStore()
	metrics := NewMetrics(reg)
	return &Server{
		store:   store,
		hub:     NewHub(store, metrics, log),
		log:     log,
		metrics: metrics,
	}
}

// Handler returns the HTTP routes. reg also serves /metrics.
func (s *Server) Handler(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(httprate.LimitByIP(300, time.Minute))

		r.Post("/rooms", s.handleCreate)
		r.Post("/rooms/{roomID}/authorize", s.handleAuthorize)
		r.Post("/rooms/{roomID}/occupancy", s.handleOccupancy)
		r.Post("/rooms/{roomID}/destroy", s.handleDestroy)
		r.Post("/rooms/{roomID}/leave", s.handleLeave)
	})

	// The websocket subscription outlives any sane request timeout, so it
	// stays outside the timeout group.
	r.Get("/rooms/{roomID}/ws", func(w http.ResponseWriter, req *http.Request) {
		s.hub.ServeWS(w, req, chi.URLParam(req, "roomID"))
	})

	return r
}

type createReq struct {
	ID          string `json:"id"`
	AuthKeyHash string `json:"authKeyHash"`
}

type authReq struct {
	AuthKeyHash string `json:"authKeyHash"`
}

type occupancyReq struct {
	Count       int    `json:"count"`
	AuthKeyHash string `json:"authKeyHash"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in createReq
	if !decodeBody(w, r, &in) {
		return
	}
	if in.ID == "" || in.AuthKeyHash == "" {
		http.Error(w, "missing id or hash", http.StatusBadRequest)
		return
	}
	state, err := s.store.Create(in.ID, in.AuthKeyHash)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.metrics.RoomsCreated.Inc()
	s.log.Info("room created", "room", in.ID)
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var in authReq
	if !decodeBody(w, r, &in) {
		return
	}
	state, err := s.store.Authorize(chi.URLParam(r, "roomID"), in.AuthKeyHash)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	var in occupancyReq
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.store.SetOccupancy(chi.URLParam(r, "roomID"), in.Count, in.AuthKeyHash); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	var in authReq
	if !decodeBody(w, r, &in) {
		return
	}
	roomID := chi.URLParam(r, "roomID")
	if err := s.store.Destroy(roomID, in.AuthKeyHash); err != nil {
		writeAPIError(w, err)
		return
	}
	s.metrics.RoomsDestroyed.Inc()
	s.log.Info("room destroyed", "room", roomID)
	w.WriteHeader(http.StatusNoContent)
}

// handleLeave is the beacon endpoint: always accepted, even after the room
// is gone, because the sender may already be mid-teardown.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var in authReq
	if !decodeBody(w, r, &in) {
		return
	}
	s.store.Beacon(chi.URLParam(r, "roomID"), in.AuthKeyHash)
	w.WriteHeader(http.StatusAccepted)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, err error) {
	var code string
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		code, status = relay.CodeUnauthorized, http.StatusUnauthorized
	case errors.Is(err, domain.ErrRoomFull):
		code, status = relay.CodeRoomFull, http.StatusConflict
	case errors.Is(err, domain.ErrRoomExpired):
		code, status = relay.CodeRoomExpired, http.StatusGone
	case errors.Is(err, domain.ErrRoomDestroyed):
		code, status = relay.CodeRoomDestroyed, http.StatusGone
	case errors.Is(err, ErrNotFound):
		code, status = relay.CodeNotFound, http.StatusNotFound
	case errors.Is(err, ErrRoomExists):
		code, status = "room_exists", http.StatusConflict
	default:
		code = "internal"
	}
	writeJSON(w, status, relayErrorBody{Error: code})
}

type relayErrorBody struct {
	Error string `json:"error"`
}
