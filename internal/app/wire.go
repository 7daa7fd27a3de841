package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"veilroom/internal/domain"
	"veilroom/internal/relay"
	"veilroom/internal/services/session"
)

// Wire bundles the relay client and session factory for the CLI.
type Wire struct {
	Rooms domain.RoomAPI
	Log   *slog.Logger

	relayURL string
	name     string
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) *Wire {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Wire{
		Rooms:    relay.NewClient(cfg.RelayURL, log),
		Log:      log,
		relayURL: cfg.RelayURL,
		name:     cfg.Name,
	}
}

// NewSession builds the orchestrator for one visit to one room. Each visit
// gets a fresh session identity; nothing links consecutive visits.
func (w *Wire) NewSession(roomID, password string) *session.Service {
	sessionID := uuid.NewString()
	return session.New(session.Config{
		RoomID:   roomID,
		Password: password,
		Self: domain.Member{
			ID:       sessionID,
			Name:     w.name,
			JoinedAt: time.Now().UnixMilli(),
		},
		Dial: func(ctx context.Context, authKeyHash string) (domain.Signaler, error) {
			return relay.DialSignal(ctx, w.relayURL, roomID, sessionID, authKeyHash, w.Log)
		},
		API: w.Rooms,
		Log: w.Log,
	})
}
