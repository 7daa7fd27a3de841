// Package room tracks room membership through the signaling channel's
// presence mechanism and drives the room lifecycle.
//
// The two-party cap is enforced without a central arbiter: when a presence
// snapshot shows more than two occupants, the most recently joined
// participant (join timestamp, tie-broken by ID) self-evicts. Every peer
// orders identical snapshots identically, so exactly one participant leaves.
package room
