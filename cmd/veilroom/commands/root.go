package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"veilroom/internal/app"
)

var (
	relayURL string
	name     string
	password string
	verbose  bool

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:   "veilroom",
		Short: "Ephemeral end-to-end encrypted rooms",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(log)

			if name == "" {
				name = "anonymous"
			}
			wire = app.NewWire(app.Config{
				RelayURL: relayURL,
				Name:     name,
				Log:      log,
			})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&relayURL, "relay", "http://127.0.0.1:8080", "room server base URL")
	root.PersistentFlags().StringVar(&name, "name", "", "display name shown to your peer")
	root.PersistentFlags().StringVarP(&password, "password", "p", "", "room password (prompted if omitted)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(createCmd(), joinCmd())
	return root.Execute()
}

// requirePassword resolves the room password from the flag or a prompt.
func requirePassword() (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, "room password: ")
	var pw string
	if _, err := fmt.Scanln(&pw); err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if pw == "" {
		return "", fmt.Errorf("password required")
	}
	return pw, nil
}
