package transfer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"veilroom/internal/crypto"
	"veilroom/internal/domain"
)

// IdleTTL bounds receiver-side retention: a transfer with no packet activity
// for this long is evicted. The sweep runs lazily on packet arrival, the
// same way the room store evaluates its dead-room expiry.
const IdleTTL = 5 * time.Minute

// Result is a fully reassembled, checksum-verified file.
type Result struct {
	TransferID string
	FileName   string
	MimeType   string
	Data       []byte
}

// inflight is one receiving-side transfer. Chunks live in a sparse map and
// are never overwritten; reassembly requires every index present.
type inflight struct {
	header     Header
	haveHeader bool
	chunks     map[uint32][]byte
	lastSeen   time.Time
}

// Receiver reassembles concurrent transfers, keyed by transfer ID so
// unrelated transfers never contend.
type Receiver struct {
	mu        sync.Mutex
	key       domain.SessionKey
	log       *slog.Logger
	transfers map[string]*inflight

	onProgress func(id string, received, total uint32)
	onComplete func(Result)
	onFailed   func(id string, err error)

	now func() time.Time
}

// NewReceiver builds a receiver for one session key.
func NewReceiver(key domain.SessionKey, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		key:       key,
		log:       log,
		transfers: make(map[string]*inflight),
		now:       time.Now,
	}
}

// OnProgress registers the receivedCount/totalChunks callback.
func (r *Receiver) OnProgress(fn func(id string, received, total uint32)) { r.onProgress = fn }

// OnComplete registers the verified-result callback. Bytes are only ever
// surfaced through this after the checksum gate passes.
func (r *Receiver) OnComplete(fn func(Result)) { r.onComplete = fn }

// OnFailed registers the terminal-failure callback.
func (r *Receiver) OnFailed(fn func(id string, err error)) { r.onFailed = fn }

// HandleFrame processes one wire frame. It runs to completion without
// suspending; per-frame failures are dropped or terminal per the tag's
// contract, never panics.
func (r *Receiver) HandleFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}
	r.mu.Lock()
	r.sweepLocked()
	r.mu.Unlock()

	switch frame[0] {
	case TagHeader:
		r.handleHeader(frame)
	case TagChunk:
		r.handleChunk(frame)
	case TagDone:
		r.handleDone(frame)
	case TagCancel:
		r.handleCancel(frame)
	case tagAck:
		r.log.Warn("dropping reserved-tag frame", "err", errReservedTag)
	default:
		r.log.Warn("dropping frame", "err", errUnknownTag, "tag", frame[0])
	}
}

func (r *Receiver) handleHeader(frame []byte) {
	id, sealed, err := decodeHeader(frame)
	if err != nil {
		r.log.Warn("dropping malformed header", "err", err)
		return
	}
	meta, err := crypto.OpenSession(sealed, r.key)
	if err != nil {
		r.log.Warn("dropping undecryptable header", "id", id, "err", err)
		return
	}
	var hdr Header
	if err := json.Unmarshal(meta, &hdr); err != nil {
		r.log.Warn("dropping malformed header metadata", "id", id, "err", err)
		return
	}

	r.mu.Lock()
	t := r.transferLocked(id)
	if t.haveHeader {
		// Duplicate HEADER; the first one wins.
		r.mu.Unlock()
		return
	}
	t.header = hdr
	t.haveHeader = true
	r.mu.Unlock()
}

func (r *Receiver) handleChunk(frame []byte) {
	c, err := decodeChunk(frame)
	if err != nil {
		r.log.Warn("dropping malformed chunk", "err", err)
		return
	}
	plain, err := crypto.OpenSym(c.Payload, [32]byte(r.key))
	if err != nil {
		// A single corrupted chunk must not abort the transfer.
		r.log.Warn("dropping undecryptable chunk", "id", c.TransferID, "index", c.Index, "err", err)
		return
	}

	r.mu.Lock()
	t := r.transferLocked(c.TransferID)
	if t.haveHeader && c.Index >= t.header.TotalChunks {
		r.mu.Unlock()
		r.log.Warn("dropping out-of-range chunk", "id", c.TransferID, "index", c.Index)
		return
	}
	if _, dup := t.chunks[c.Index]; !dup {
		t.chunks[c.Index] = plain
	}
	received := uint32(len(t.chunks))
	total := t.header.TotalChunks
	haveHeader := t.haveHeader
	r.mu.Unlock()

	if haveHeader && r.onProgress != nil {
		r.onProgress(c.TransferID, received, total)
	}
}

func (r *Receiver) handleDone(frame []byte) {
	id, wireChecksum, err := decodeDone(frame)
	if err != nil {
		r.log.Warn("dropping malformed done", "err", err)
		return
	}

	r.mu.Lock()
	t, ok := r.transfers[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("done for unknown transfer", "id", id)
		return
	}
	delete(r.transfers, id)
	r.mu.Unlock()

	if !t.haveHeader {
		r.fail(id, fmt.Errorf("%w: no header", domain.ErrIncompleteTransfer))
		return
	}
	if uint32(len(t.chunks)) != t.header.TotalChunks {
		r.fail(id, fmt.Errorf("%w: have %d of %d chunks",
			domain.ErrIncompleteTransfer, len(t.chunks), t.header.TotalChunks))
		return
	}

	data := make([]byte, 0, t.header.TotalSize)
	for i := uint32(0); i < t.header.TotalChunks; i++ {
		chunk, ok := t.chunks[i]
		if !ok {
			r.fail(id, fmt.Errorf("%w: missing chunk %d", domain.ErrIncompleteTransfer, i))
			return
		}
		data = append(data, chunk...)
	}

	// The assembled bytes are never surfaced unverified.
	sum := crypto.Checksum(data)
	if sum != t.header.Checksum || sum != wireChecksum {
		r.fail(id, domain.ErrIntegrityViolation)
		return
	}

	if r.onComplete != nil {
		r.onComplete(Result{
			TransferID: id,
			FileName:   t.header.FileName,
			MimeType:   t.header.MimeType,
			Data:       data,
		})
	}
}

func (r *Receiver) handleCancel(frame []byte) {
	id, err := decodeCancel(frame)
	if err != nil {
		r.log.Warn("dropping malformed cancel", "err", err)
		return
	}
	r.mu.Lock()
	_, ok := r.transfers[id]
	delete(r.transfers, id)
	r.mu.Unlock()
	if ok {
		r.log.Debug("transfer cancelled by sender", "id", id)
	}
}

// Pending reports the number of in-flight transfers, for teardown checks.
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

func (r *Receiver) fail(id string, err error) {
	r.log.Warn("transfer failed", "id", id, "err", err)
	if r.onFailed != nil {
		r.onFailed(id, err)
	}
}

func (r *Receiver) transferLocked(id string) *inflight {
	t, ok := r.transfers[id]
	if !ok {
		t = &inflight{chunks: make(map[uint32][]byte)}
		r.transfers[id] = t
	}
	t.lastSeen = r.now()
	return t
}

func (r *Receiver) sweepLocked() {
	cutoff := r.now().Add(-IdleTTL)
	for id, t := range r.transfers {
		if t.lastSeen.Before(cutoff) {
			delete(r.transfers, id)
			r.log.Warn("evicting idle transfer", "id", id)
		}
	}
}
