// Package session orchestrates one participant's visit to a room: credential
// derivation, server authorization, the ephemeral key exchange, and the
// sealed message and transfer endpoints built on the resulting session key.
//
// A visit is strictly ephemeral. Joining generates a fresh keypair, leaving
// wipes the keypair and the shared secret, and nothing about the session is
// ever persisted. Compromise of a device after the visit reveals nothing
// about what was said during it.
package session
