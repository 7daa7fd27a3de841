package commands

import (
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"
)

// roomCodeAlphabet omits easily-confused characters (0/O, 1/I/L).
const roomCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// create [room-id]: register a room; without an argument a short join code
// like K7X2-M9P4 is generated.
func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [room-id]",
		Short: "Register an ephemeral room on the relay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := requirePassword()
			if err != nil {
				return err
			}

			roomID := ""
			if len(args) == 1 {
				roomID = args[0]
			} else {
				roomID, err = newRoomCode()
				if err != nil {
					return err
				}
			}

			svc := wire.NewSession(roomID, pw)
			if err := svc.Create(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("room %s created. it expires in 24h if nobody joins.\n", roomID)
			fmt.Printf("share the room id and password out of band, then run:\n")
			fmt.Printf("  veilroom join %s\n", roomID)
			return nil
		},
	}
}

func newRoomCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	code := make([]byte, 0, 9)
	for i, b := range buf {
		if i == 4 {
			code = append(code, '-')
		}
		code = append(code, roomCodeAlphabet[int(b)%len(roomCodeAlphabet)])
	}
	return string(code), nil
}
