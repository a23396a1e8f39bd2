// Package cipher is the protocol cipher of the incoming pipeline.
//
// It opens the four envelope framings (ciphertext, prekey bundle, sealed
// sender and plaintext content) against the X3DH and Double Ratchet state in
// package store, and reports every failure as a typed ProtocolError so the
// caller can decide between a session reset and a retry receipt.
//
// Ratchet state is decrypted on a clone and only written back after the
// message authenticated; a one-time prekey is consumed on the same condition.
package cipher
