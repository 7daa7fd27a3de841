// Package relay implements the clients for the room server: an HTTP client
// for the room lifecycle API and a WebSocket client for the per-room
// signaling channel.
//
// The relay only ever sees ciphertext, the room identifier, the auth-key
// hash and participant counts.
package relay
