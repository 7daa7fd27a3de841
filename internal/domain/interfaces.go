package domain

import "context"

// Signaler is the per-room publish/subscribe channel. Broadcasts are not
// echoed back to the sender. Implementations must deliver events for a given
// peer in the order they were published.
type Signaler interface {
	// Publish broadcasts a JSON payload under an event name.
	Publish(ctx context.Context, event string, payload any) error

	// Handle registers a handler for an event name. Handlers run to
	// completion without suspending; wire ordering per peer is preserved.
	Handle(event string, fn func(data []byte))

	// Track publishes this participant's presence record.
	Track(ctx context.Context, m Member) error

	// OnPresence registers a handler for full-membership snapshots.
	OnPresence(fn func(members []Member))

	// Secure reports whether the transport is authenticated (TLS or an
	// in-memory test hub). The handshake refuses to run when false.
	Secure() bool

	// Close detaches from presence and tears down the subscription.
	Close() error
}

// DataChannel is the direct peer binary transport used for file transfer.
// It is ordered and reliable enough for control frames, but the chunk stream
// is treated as possibly reordered or lost at the application layer.
type DataChannel interface {
	Send(frame []byte) error

	// Buffered returns the outstanding buffered byte count, used for
	// backpressure.
	Buffered() int

	OnFrame(fn func(frame []byte))

	Close() error
}

// RoomAPI is the server collaborator: room lifecycle and occupancy mutation.
// Every mutation carries the room's auth-key hash; a mismatch is a no-op on
// the server and surfaces as ErrUnauthorized.
type RoomAPI interface {
	CreateRoom(ctx context.Context, roomID, authKeyHash string) (RoomState, error)

	// Authorize checks the hash against server state and returns the current
	// room status. Expiry is evaluated lazily on this call.
	Authorize(ctx context.Context, roomID, authKeyHash string) (RoomState, error)

	// SetOccupancy is idempotent: setting the same count twice is harmless.
	SetOccupancy(ctx context.Context, roomID string, count int, authKeyHash string) error

	DestroyRoom(ctx context.Context, roomID, authKeyHash string) error

	// LeaveBeacon is the fire-and-forget teardown path. It must survive the
	// caller's teardown, decrement occupancy exactly once per call, and be a
	// no-op for already-destroyed rooms. Errors are intentionally dropped.
	LeaveBeacon(roomID, authKeyHash string)
}
