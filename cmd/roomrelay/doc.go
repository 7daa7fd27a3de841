// Package main runs the veilroom room server: a blind rendezvous point
// that relays ciphertext and tracks room occupancy without ever holding
// key material or plaintext.
//
// HTTP API
//
//	POST /rooms
//	    Register a room {id, authKeyHash}. The hash is all the server ever
//	    learns about the password.
//
//	POST /rooms/{id}/authorize
//	    Check a hash against the room and return its state. Fails with
//	    room_full once two participants are present, and with
//	    room_destroyed/room_expired for terminal rooms.
//
//	POST /rooms/{id}/occupancy
//	    Idempotent occupancy update {count, authKeyHash}, clamped to 0..2.
//
//	POST /rooms/{id}/destroy
//	    Mark the room destroyed. Safe to repeat.
//
//	POST /rooms/{id}/leave
//	    Fire-and-forget occupancy decrement for abrupt exits; always
//	    accepted, destroys the room when the count reaches zero.
//
//	GET /rooms/{id}/ws?session=S&hash=H
//	    Authorized WebSocket subscription. Event frames fan out to every
//	    other subscriber; presence snapshots go to everyone.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Rooms nobody has visited expire 24 hours after creation, evaluated
//     lazily on the next status check.
//   - Prometheus metrics are served on /metrics, liveness on /healthz.
//   - The default listen address is :8080, overridable with LISTEN_ADDR
//     (a .env file is honoured).
package main
