// Package ratchet implements the Double Ratchet over X25519, HKDF-SHA256 and
// ChaCha20-Poly1305.
//
// Every message advances a symmetric chain; every new ratchet key from the
// peer advances the root chain. Skipped message keys are kept up to a bound
// so out of order delivery still decrypts.
//
// State is not safe for concurrent use. The cipher serialises all access
// under its session lock.
package ratchet
