package types

// Identity holds the long-term X25519 agreement and Ed25519 signing keys.
type Identity struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
}

// PublicKeys returns the public halves in fingerprint order.
func (id Identity) PublicKeys() [][]byte {
	return [][]byte{id.XPub.Slice(), id.EdPub.Slice()}
}

// Clear zeroes the private keys.
func (id *Identity) Clear() {
	clear(id.XPriv[:])
	clear(id.EdPriv[:])
}
