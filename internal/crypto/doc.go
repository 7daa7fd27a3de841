// Package crypto exposes the primitives the session layer is built on.
//
// Contents
//
//   - Password stretching into the dual room credential (DeriveCredential,
//     HashAuthKey)
//   - NaCl box / secretbox authenticated encryption with a fresh random
//     nonce per seal (SealAsym, OpenAsym, SealSession, OpenSession, SealSym,
//     OpenSym)
//   - Ephemeral keypair generation and shared-secret precomputation
//     (GenerateEphemeral, SharedSecret)
//   - Whole-file checksums (Checksum)
//
// Open never returns garbled plaintext: any key, nonce or ciphertext
// mismatch fails with domain.ErrDecryptionFailed. Callers treat returned
// secrets as sensitive and wipe them when their session ends.
package crypto
