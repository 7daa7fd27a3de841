package app

import "log/slog"

// Config holds runtime wiring options for building the app.
type Config struct {
	RelayURL string       // room server base URL, e.g. https://relay.example.com
	Name     string       // display name published in presence
	Log      *slog.Logger // optional; defaults to slog.Default()
}
