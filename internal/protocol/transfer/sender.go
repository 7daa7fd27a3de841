package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"veilroom/internal/crypto"
	"veilroom/internal/domain"
)

// Size ceilings per MIME family. Video is never recompressed, so its ceiling
// is higher.
const (
	MaxImageBytes = 10 << 20
	MaxVideoBytes = 50 << 20
)

// Backpressure watermarks against DataChannel.Buffered.
const (
	highWater = 4 * ChunkSize
	lowWater  = ChunkSize
)

var (
	// ErrUnsupportedType means the MIME family is neither image nor video.
	ErrUnsupportedType = errors.New("transfer: unsupported file type")

	// ErrFileTooLarge means the payload exceeds its family's ceiling.
	ErrFileTooLarge = errors.New("transfer: file too large")
)

// File is one outbound payload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Progress reports chunksSent/totalChunks after every chunk, monotonic 0→1.
type Progress func(sent, total uint32)

// Transform optionally rewrites image bytes before encryption (e.g.
// recompression). Video always goes byte-for-byte.
type Transform func(mimeType string, data []byte) []byte

// Sender frames, encrypts, chunks and ships files over a data channel.
type Sender struct {
	ch  domain.DataChannel
	key domain.SessionKey
	log *slog.Logger

	transform Transform

	// pollInterval paces the backpressure wait; overridable in tests.
	pollInterval time.Duration
}

// NewSender builds a sender bound to one data channel and session key.
func NewSender(ch domain.DataChannel, key domain.SessionKey, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		ch:           ch,
		key:          key,
		log:          log,
		pollInterval: 5 * time.Millisecond,
	}
}

// WithTransform installs an image pre-encryption transform.
func (s *Sender) WithTransform(t Transform) *Sender {
	s.transform = t
	return s
}

// SendFile validates, chunks, encrypts and streams one file. It returns the
// transfer ID, which can later be passed to Cancel. The whole-file checksum
// is computed over the pre-encryption bytes so the receiver verifies what
// the application will actually see.
func (s *Sender) SendFile(ctx context.Context, f File, progress Progress) (string, error) {
	if err := validateFile(f); err != nil {
		return "", err
	}

	data := f.Data
	if s.transform != nil && strings.HasPrefix(f.MimeType, "image/") {
		data = s.transform(f.MimeType, data)
	}

	id := NewTransferID()
	chunks := splitChunks(data)
	checksum := crypto.Checksum(data)

	hdr := Header{
		TransferID:  id,
		FileName:    f.Name,
		MimeType:    f.MimeType,
		TotalSize:   int64(len(data)),
		TotalChunks: uint32(len(chunks)),
		Checksum:    checksum,
	}
	meta, err := json.Marshal(hdr)
	if err != nil {
		return "", fmt.Errorf("transfer: marshal header: %w", err)
	}
	sealed, err := crypto.SealSession(meta, s.key)
	if err != nil {
		return "", err
	}
	if err := s.ch.Send(EncodeHeader(id, sealed)); err != nil {
		return "", fmt.Errorf("transfer: send header: %w", err)
	}

	for i, chunk := range chunks {
		if err := s.waitForDrain(ctx); err != nil {
			return id, err
		}
		sealedChunk, err := crypto.SealSym(chunk, [32]byte(s.key))
		if err != nil {
			return id, err
		}
		frame := EncodeChunk(Chunk{TransferID: id, Index: uint32(i), Payload: sealedChunk})
		if err := s.ch.Send(frame); err != nil {
			return id, fmt.Errorf("transfer: send chunk %d: %w", i, err)
		}
		if progress != nil {
			progress(uint32(i+1), uint32(len(chunks)))
		}
	}

	if err := s.ch.Send(EncodeDone(id, checksum)); err != nil {
		return id, fmt.Errorf("transfer: send done: %w", err)
	}
	s.log.Debug("transfer sent", "id", id, "chunks", len(chunks), "bytes", len(data))
	return id, nil
}

// Cancel aborts an in-flight transfer. Receivers drop all state for the ID.
func (s *Sender) Cancel(id string) error {
	return s.ch.Send(EncodeCancel(id))
}

// waitForDrain suspends while the channel's outstanding buffer exceeds the
// high-water mark, resuming once it drains below the low-water mark. This is
// the only suspension point in the send path.
func (s *Sender) waitForDrain(ctx context.Context) error {
	if s.ch.Buffered() <= highWater {
		return nil
	}
	for s.ch.Buffered() > lowWater {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
	return nil
}

func validateFile(f File) error {
	switch {
	case strings.HasPrefix(f.MimeType, "image/"):
		if len(f.Data) > MaxImageBytes {
			return fmt.Errorf("%w: image %d bytes exceeds %d", ErrFileTooLarge, len(f.Data), MaxImageBytes)
		}
	case strings.HasPrefix(f.MimeType, "video/"):
		if len(f.Data) > MaxVideoBytes {
			return fmt.Errorf("%w: video %d bytes exceeds %d", ErrFileTooLarge, len(f.Data), MaxVideoBytes)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, f.MimeType)
	}
	return nil
}
