// Package identity creates and unlocks the local account identity.
//
// It enforces the passphrase policy, generates the X25519 and Ed25519 key
// pairs and persists them sealed through domain.IdentityStore.
package identity
