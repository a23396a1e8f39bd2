package x3dh

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"courier/internal/crypto"
	"courier/internal/domain"
)

const (
	rootKeySize = 32
	info        = "courier-x3dh"
)

// ErrBadSPK is returned when a bundle's signed prekey signature does not verify.
var ErrBadSPK = errors.New("x3dh: signed prekey signature invalid")

// InitiatorRoot verifies the peer bundle, generates an ephemeral key and
// derives the root key. It picks the first one-time prekey when the bundle
// carries any.
func InitiatorRoot(
	self domain.Identity,
	bundle domain.PreKeyBundle,
) (root []byte, spkID domain.SignedPreKeyID, opkID domain.OneTimePreKeyID, ephPub domain.X25519Public, err error) {
	if !VerifySPK(bundle.SigningKey, bundle.SignedPreKey, bundle.SignedPreKeySignature) {
		return nil, "", "", ephPub, ErrBadSPK
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, "", "", ephPub, fmt.Errorf("x3dh: ephemeral key: %w", err)
	}
	defer crypto.Wipe(ephPriv[:])

	var opk *domain.X25519Public
	if len(bundle.OneTimePreKeys) > 0 {
		opk = &bundle.OneTimePreKeys[0].Pub
		opkID = bundle.OneTimePreKeys[0].ID
	}

	transcript, err := concatDH(
		pair{self.XPriv, bundle.SignedPreKey}, // DH(IKa, SPKb)
		pair{ephPriv, bundle.IdentityKey},     // DH(EKa, IKb)
		pair{ephPriv, bundle.SignedPreKey},    // DH(EKa, SPKb)
	)
	if err != nil {
		return nil, "", "", ephPub, err
	}
	if opk != nil {
		dh4, err := crypto.DH(ephPriv, *opk) // DH(EKa, OPKb)
		if err != nil {
			return nil, "", "", ephPub, err
		}
		transcript = append(transcript, dh4[:]...)
	}
	defer crypto.Wipe(transcript)

	root, err = deriveRoot(transcript)
	if err != nil {
		return nil, "", "", ephPub, err
	}
	return root, bundle.SignedPreKeyID, opkID, ephPub, nil
}

// ResponderRoot recomputes the initiator's root key from the prekey message.
// opkPriv is nil when the initiator did not consume a one-time prekey.
func ResponderRoot(
	self domain.Identity,
	spkPriv domain.X25519Private,
	opkPriv *domain.X25519Private,
	msg domain.PreKeyMessage,
) ([]byte, error) {
	transcript, err := concatDH(
		pair{spkPriv, msg.InitiatorIdentityKey}, // DH(SPKb, IKa)
		pair{self.XPriv, msg.EphemeralKey},      // DH(IKb, EKa)
		pair{spkPriv, msg.EphemeralKey},         // DH(SPKb, EKa)
	)
	if err != nil {
		return nil, err
	}
	if opkPriv != nil {
		dh4, err := crypto.DH(*opkPriv, msg.EphemeralKey) // DH(OPKb, EKa)
		if err != nil {
			return nil, err
		}
		transcript = append(transcript, dh4[:]...)
	}
	defer crypto.Wipe(transcript)

	return deriveRoot(transcript)
}

// VerifySPK checks the signed prekey signature.
func VerifySPK(edPub domain.Ed25519Public, spk domain.X25519Public, sig []byte) bool {
	return crypto.VerifyPreKey(edPub, spk, sig)
}

type pair struct {
	priv domain.X25519Private
	pub  domain.X25519Public
}

func concatDH(pairs ...pair) ([]byte, error) {
	out := make([]byte, 0, 32*(len(pairs)+1))
	for _, p := range pairs {
		s, err := crypto.DH(p.priv, p.pub)
		if err != nil {
			crypto.Wipe(out)
			return nil, err
		}
		out = append(out, s[:]...)
	}
	return out, nil
}

func deriveRoot(transcript []byte) ([]byte, error) {
	root := make([]byte, rootKeySize)
	r := hkdf.New(sha256.New, transcript, make([]byte, sha256.Size), []byte(info))
	if _, err := io.ReadFull(r, root); err != nil {
		return nil, fmt.Errorf("x3dh: hkdf: %w", err)
	}
	return root, nil
}
