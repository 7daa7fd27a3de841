// Package relayserver implements the room server: the HTTP lifecycle API
// and the WebSocket signaling hub.
//
// The server is deliberately blind. It stores a room id, an auth-key hash,
// a participant count and an expiry; every payload it relays is opaque
// ciphertext. Mutations are validated against the stored hash and are
// no-ops on mismatch, never partially applied.
package relayserver
