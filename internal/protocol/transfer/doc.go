// Package transfer implements the chunked binary protocol for moving large
// encrypted payloads over a direct peer data channel.
//
// Every frame starts with a 1-byte tag followed by a fixed-width transfer
// identifier. Chunks carry an explicit big-endian index because the chunk
// stream may be reordered or partially lost even when control frames are
// not. Each chunk is an independent AEAD unit: losing or corrupting one
// chunk cannot break decoding of the others.
//
// The sender applies backpressure against the channel's buffered byte count
// and reports monotonic progress. The receiver reassembles into a sparse
// map, refuses to surface anything until every index is present and the
// whole-file checksum verifies, and evicts idle transfers lazily.
package transfer
