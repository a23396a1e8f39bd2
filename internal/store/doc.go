// Package store provides file-based persistence for the protocol state.
//
// It contains concrete implementations of the domain storage interfaces,
// serialising data as JSON on disk. All methods are concurrency-safe via
// internal locking. Stored files live under the configured home directory.
//
// The package includes stores for:
//   - Identity keys (IdentityFileStore), sealed with Argon2id and XChaCha20-Poly1305
//   - Prekeys (PrekeyFileStore)
//   - Prekey bundles (BundleFileStore)
//   - X3DH sessions and pinned peer identities (SessionFileStore)
//   - Double Ratchet conversation state per peer device (RatchetFileStore)
//   - Account profiles and the AccountState view over them (AccountFileStore)
//
// Message history, recipients and pending retry receipts live in the sqlite
// subpackage.
package store
