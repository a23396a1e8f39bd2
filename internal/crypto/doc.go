// Package crypto exposes the small set of primitives the protocol layer and
// the services build on.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie-Hellman (GenerateX25519,
//     PublicX25519, DH)
//   - Identity signing keys and signed prekey signatures (GenerateSigningKey,
//     SignPreKey, VerifyPreKey)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display and logging (Fingerprint)
//
// All functions return fixed-size array types defined in internal/domain.
// Callers should treat returned secrets as sensitive and Wipe them when done.
package crypto
