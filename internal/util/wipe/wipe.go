// Package wipe scrubs key material from memory on a best-effort basis.
package wipe

import "crypto/subtle"

// Bytes overwrites b with zeros. Routing the write through
// subtle.ConstantTimeCopy keeps the compiler from eliding it as a dead
// store.
func Bytes(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
