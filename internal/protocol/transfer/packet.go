package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"veilroom/internal/crypto"
	"veilroom/internal/domain"
)

// Packet tags. Tag 2 is reserved (a per-chunk acknowledgement that never
// shipped) and is rejected if seen on the wire.
const (
	TagHeader byte = 1
	tagAck    byte = 2
	TagChunk  byte = 3
	TagDone   byte = 4
	TagCancel byte = 5
)

const (
	// ChunkSize is the fixed plaintext chunk length, chosen to stay under
	// the smallest known safe data-channel message ceiling.
	ChunkSize = 64 * 1024

	// TransferIDLen is the serialized width of a transfer identifier. It
	// must exactly match the identifier format or receivers desynchronize
	// index parsing; see init below.
	TransferIDLen = 36

	indexLen = 4
)

func init() {
	// Transfer IDs are canonical UUID strings. Fail fast at process start
	// if the wire width ever drifts from the generator's output; a silent
	// mismatch truncates IDs and orphans chunks at the receiver.
	if got := len(uuid.Nil.String()); got != TransferIDLen {
		panic(fmt.Sprintf("transfer: id width %d does not match uuid length %d", TransferIDLen, got))
	}
}

var (
	errShortFrame  = errors.New("transfer: frame too short")
	errReservedTag = errors.New("transfer: reserved packet tag")
	errUnknownTag  = errors.New("transfer: unknown packet tag")
)

// NewTransferID returns a fresh canonical transfer identifier.
func NewTransferID() string { return uuid.NewString() }

// Header is the per-transfer metadata, sealed with the session key and sent
// exactly once before any chunk.
type Header struct {
	TransferID  string `json:"transferId"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
	TotalSize   int64  `json:"totalSize"`
	TotalChunks uint32 `json:"totalChunks"`
	Checksum    string `json:"checksum"`
}

// Chunk is one decoded CHUNK frame.
type Chunk struct {
	TransferID string
	Index      uint32
	Payload    domain.EncryptedPayload
}

func encodeID(dst []byte, id string) {
	copy(dst[:TransferIDLen], id)
}

// EncodeHeader frames a sealed header payload:
// [tag][id][nonce][ciphertext].
func EncodeHeader(id string, sealed domain.EncryptedPayload) []byte {
	frame := make([]byte, 1+TransferIDLen+crypto.NonceBytes+len(sealed.Ciphertext))
	frame[0] = TagHeader
	encodeID(frame[1:], id)
	copy(frame[1+TransferIDLen:], sealed.Nonce)
	copy(frame[1+TransferIDLen+crypto.NonceBytes:], sealed.Ciphertext)
	return frame
}

// EncodeChunk frames one sealed chunk:
// [tag][id][4-byte big-endian index][nonce][ciphertext].
func EncodeChunk(c Chunk) []byte {
	frame := make([]byte, 1+TransferIDLen+indexLen+crypto.NonceBytes+len(c.Payload.Ciphertext))
	frame[0] = TagChunk
	encodeID(frame[1:], c.TransferID)
	binary.BigEndian.PutUint32(frame[1+TransferIDLen:], c.Index)
	copy(frame[1+TransferIDLen+indexLen:], c.Payload.Nonce)
	copy(frame[1+TransferIDLen+indexLen+crypto.NonceBytes:], c.Payload.Ciphertext)
	return frame
}

// EncodeDone frames the terminal packet: [tag][id][checksum as text].
func EncodeDone(id, checksum string) []byte {
	frame := make([]byte, 1+TransferIDLen+len(checksum))
	frame[0] = TagDone
	encodeID(frame[1:], id)
	copy(frame[1+TransferIDLen:], checksum)
	return frame
}

// EncodeCancel frames a cancellation: [tag][id].
func EncodeCancel(id string) []byte {
	frame := make([]byte, 1+TransferIDLen)
	frame[0] = TagCancel
	encodeID(frame[1:], id)
	return frame
}

func decodeHeader(frame []byte) (id string, sealed domain.EncryptedPayload, err error) {
	if len(frame) < 1+TransferIDLen+crypto.NonceBytes {
		return "", domain.EncryptedPayload{}, errShortFrame
	}
	id = string(frame[1 : 1+TransferIDLen])
	sealed.Nonce = frame[1+TransferIDLen : 1+TransferIDLen+crypto.NonceBytes]
	sealed.Ciphertext = frame[1+TransferIDLen+crypto.NonceBytes:]
	return id, sealed, nil
}

func decodeChunk(frame []byte) (Chunk, error) {
	if len(frame) < 1+TransferIDLen+indexLen+crypto.NonceBytes {
		return Chunk{}, errShortFrame
	}
	c := Chunk{
		TransferID: string(frame[1 : 1+TransferIDLen]),
		Index:      binary.BigEndian.Uint32(frame[1+TransferIDLen:]),
	}
	c.Payload.Nonce = frame[1+TransferIDLen+indexLen : 1+TransferIDLen+indexLen+crypto.NonceBytes]
	c.Payload.Ciphertext = frame[1+TransferIDLen+indexLen+crypto.NonceBytes:]
	return c, nil
}

func decodeDone(frame []byte) (id, checksum string, err error) {
	if len(frame) < 1+TransferIDLen {
		return "", "", errShortFrame
	}
	return string(frame[1 : 1+TransferIDLen]), string(frame[1+TransferIDLen:]), nil
}

func decodeCancel(frame []byte) (string, error) {
	if len(frame) < 1+TransferIDLen {
		return "", errShortFrame
	}
	return string(frame[1 : 1+TransferIDLen]), nil
}

func splitChunks(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for off := 0; off < len(data); off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		chunks = append(chunks, data[off:end])
	}
	return chunks
}
