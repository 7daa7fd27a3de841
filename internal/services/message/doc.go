// Package message relays short text payloads over the signaling channel,
// sealed with the current session key.
//
// Messages are displayed in local-receipt order; there are no sequence
// numbers, which is acceptable for exactly two parties on one logical
// thread. Frames that fail to open are dropped as noise, since secret
// rotation or stale peers can produce transient undecryptable frames.
package message
