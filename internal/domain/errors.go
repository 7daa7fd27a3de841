package domain

import "errors"

var (
	// ErrCryptoUnavailable means the environment lacks a usable CSPRNG or
	// KDF. Fatal: session initialisation must abort.
	ErrCryptoUnavailable = errors.New("veilroom: crypto unavailable")

	// ErrInsecureContext means the signaling transport is not authenticated;
	// the handshake refuses to run over it.
	ErrInsecureContext = errors.New("veilroom: insecure context")

	// ErrDecryptionFailed is returned when an AEAD open fails. Single frames
	// carrying it are dropped, never retried with the same key.
	ErrDecryptionFailed = errors.New("veilroom: message authentication failed")

	// ErrIncompleteTransfer means DONE arrived with chunks still missing.
	ErrIncompleteTransfer = errors.New("veilroom: transfer incomplete")

	// ErrIntegrityViolation means the reassembled file failed its checksum.
	ErrIntegrityViolation = errors.New("veilroom: transfer checksum mismatch")

	// ErrUnauthorized means a room mutation was attempted with a mismatched
	// auth-key hash. The server leaves state untouched.
	ErrUnauthorized = errors.New("veilroom: unauthorized")

	ErrRoomFull      = errors.New("veilroom: room is full")
	ErrRoomDestroyed = errors.New("veilroom: room destroyed")
	ErrRoomExpired   = errors.New("veilroom: room expired")
)
