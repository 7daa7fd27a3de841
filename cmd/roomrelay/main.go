package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"veilroom/internal/relayserver"
)

func main() {
	// A missing .env is fine; environment variables win either way.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			level = slog.LevelInfo
		}
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	addr := envOr("LISTEN_ADDR", ":8080")

	reg := prometheus.NewRegistry()
	srv := relayserver.New(log, reg)

	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("room relay listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
