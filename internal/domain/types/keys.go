package types

import "encoding/hex"

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

func (p X25519Public) Slice() []byte { return p[:] }

// IsZero reports whether the key is unset.
func (p X25519Public) IsZero() bool { return p == X25519Public{} }

// String renders the first bytes of the key for logs.
func (p X25519Public) String() string { return hex.EncodeToString(p[:6]) }

// X25519Private is a Curve25519 private key. It has no String method so it
// never ends up in a log line by accident.
type X25519Private [32]byte

func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 verification key.
type Ed25519Public [32]byte

func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing key in the 64 byte seed+public form.
type Ed25519Private [64]byte

func (k Ed25519Private) Slice() []byte { return k[:] }
