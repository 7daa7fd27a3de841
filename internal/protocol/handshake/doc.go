// Package handshake implements the ephemeral key exchange that layers a
// forward-secret session key on top of the password-authenticated channel.
//
// A fresh keypair is generated per connection attempt. The peer's public key
// can arrive over two independent paths (an explicit key_exchange broadcast,
// or presence metadata); both funnel into a single idempotent PeerKey latch,
// so whichever arrives first wins and later deliveries are ignored.
package handshake
