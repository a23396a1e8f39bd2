package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"

	"courier/internal/domain"
)

// ErrLowOrderPoint is returned when a peer key produces an all-zero shared secret.
var ErrLowOrderPoint = errors.New("crypto: low order x25519 point")

// preKeyContext is prepended to the prekey before signing. Signatures over a
// bare curve point do not verify.
var preKeyContext = []byte("courier signed prekey v1\x00")

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	clamp(&priv)
	pub, err = PublicX25519(priv)
	return
}

// PublicX25519 derives the public half of priv.
func PublicX25519(priv domain.X25519Private) (pub domain.X25519Public, err error) {
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pb)
	return pub, nil
}

// DH computes X25519 Diffie-Hellman.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, ErrLowOrderPoint
	}
	copy(out[:], secret)
	return out, nil
}

// FingerprintX25519 fingerprints a single public key.
func FingerprintX25519(pub domain.X25519Public) string {
	return Fingerprint(pub[:])
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}

// GenerateSigningKey returns the Ed25519 pair an identity signs its prekeys with.
func GenerateSigningKey() (priv domain.Ed25519Private, pub domain.Ed25519Public, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	Wipe(sk)
	return priv, pub, nil
}

// SignPreKey signs a signed prekey for publication in a bundle.
func SignPreKey(priv domain.Ed25519Private, spk domain.X25519Public) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv[:]), preKeyMessage(spk))
}

// VerifyPreKey checks a bundle's signed prekey against the owner's signing key.
func VerifyPreKey(pub domain.Ed25519Public, spk domain.X25519Public, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), preKeyMessage(spk), sig)
}

func preKeyMessage(spk domain.X25519Public) []byte {
	msg := make([]byte, 0, len(preKeyContext)+len(spk))
	msg = append(msg, preKeyContext...)
	return append(msg, spk[:]...)
}
