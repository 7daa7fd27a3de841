package commands

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"veilroom/internal/protocol/transfer"
	"veilroom/internal/services/message"
)

// join <room-id>: enter the room and chat line-by-line. /send ships a file,
// /leave (or EOF) exits.
func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <room-id>",
		Short: "Enter a room and chat until you leave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := requirePassword()
			if err != nil {
				return err
			}
			roomID := args[0]
			ctx := cmd.Context()

			svc := wire.NewSession(roomID, pw)

			var mu sync.Mutex
			var sender *transfer.Sender

			svc.OnReady(func() {
				if peer, ok := svc.Peer(); ok {
					fmt.Printf("* %s is here. messages are end-to-end encrypted.\n", peer.Name)
				}
				ch, err := svc.OpenDataChannel()
				if err != nil {
					fmt.Fprintf(os.Stderr, "file transfer unavailable: %v\n", err)
					return
				}
				recv, err := svc.AttachReceiver(ch)
				if err != nil {
					fmt.Fprintf(os.Stderr, "file transfer unavailable: %v\n", err)
					return
				}
				recv.OnComplete(func(res transfer.Result) {
					name := filepath.Base(res.FileName)
					if err := os.WriteFile(name, res.Data, 0o600); err != nil {
						fmt.Fprintf(os.Stderr, "save %s: %v\n", name, err)
						return
					}
					fmt.Printf("* received %s (%d bytes)\n", name, len(res.Data))
				})
				recv.OnFailed(func(id string, err error) {
					fmt.Fprintf(os.Stderr, "transfer failed: %v\n", err)
				})
				snd, err := svc.NewSender(ch)
				if err != nil {
					fmt.Fprintf(os.Stderr, "file transfer unavailable: %v\n", err)
					return
				}
				mu.Lock()
				sender = snd
				mu.Unlock()
			})
			svc.OnMessage(func(m message.Message) {
				if !m.Mine {
					fmt.Printf("<%s> %s\n", m.SenderName, m.Text)
				}
			})
			svc.OnPeerLeft(func() {
				mu.Lock()
				sender = nil
				mu.Unlock()
				fmt.Println("* your peer left. waiting for someone to join.")
			})
			svc.OnRoomFull(func() {
				fmt.Println("* room is full, disconnected.")
				os.Exit(1)
			})

			if err := svc.Join(ctx); err != nil {
				return err
			}
			fmt.Printf("joined %s. type to chat, /send <file> to share, /leave to exit.\n", roomID)

			// An abrupt interrupt still tells the relay we are gone.
			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-interrupts
				svc.Beacon()
				os.Exit(0)
			}()

			scanner := bufio.NewScanner(os.Stdin)
		loop:
			for scanner.Scan() {
				text := strings.TrimSpace(scanner.Text())
				switch {
				case text == "":
					continue
				case text == "/leave":
					break loop
				case strings.HasPrefix(text, "/send "):
					mu.Lock()
					snd := sender
					mu.Unlock()
					if snd == nil {
						fmt.Fprintln(os.Stderr, "no peer to send to yet")
						continue
					}
					path := strings.TrimSpace(strings.TrimPrefix(text, "/send "))
					if err := sendFile(ctx, snd, path); err != nil {
						fmt.Fprintf(os.Stderr, "not sent: %v\n", err)
					}
				default:
					if _, err := svc.SendMessage(ctx, text); err != nil {
						fmt.Fprintf(os.Stderr, "not sent: %v\n", err)
					}
				}
			}

			svc.Leave(ctx)
			fmt.Println("left the room.")
			return scanner.Err()
		},
	}
}

func sendFile(ctx context.Context, snd *transfer.Sender, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	f := transfer.File{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	}
	_, err = snd.SendFile(ctx, f, func(sent, total uint32) {
		if sent == total {
			fmt.Printf("* sent %s (%d chunks)\n", f.Name, total)
		}
	})
	return err
}
