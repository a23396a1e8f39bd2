package cipher

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"courier/internal/crypto"
	"courier/internal/domain"
)

// SealedVersion is the only sealed-sender framing version we produce and accept.
const SealedVersion uint8 = 1

const sealedInfo = "courier-sealed-sender"

var (
	// ErrSealedVersion is returned when the sealed framing carries an unknown version.
	ErrSealedVersion = errors.New("cipher: unknown sealed sender version")
	// ErrSealedMalformed is returned when the sealed framing cannot be opened.
	ErrSealedMalformed = errors.New("cipher: malformed sealed sender message")
)

// Seal hides msg and its sender from the relay. Only the holder of the
// private half of recipient can open the result.
//
// Layout: version(1) || ephemeral public(32) || AEAD(json(msg)).
func Seal(recipient domain.X25519Public, msg domain.SealedSenderMessage) ([]byte, error) {
	msg.Version = SealedVersion
	plain, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("cipher: encode sealed message: %w", err)
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(ephPriv[:])

	key, err := sealedKey(ephPriv, recipient, ephPub, recipient)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(ephPub)+len(plain)+aead.Overhead())
	out = append(out, SealedVersion)
	out = append(out, ephPub[:]...)
	// Every message uses a fresh ephemeral key, so a zero nonce is never reused.
	out = aead.Seal(out, make([]byte, aead.NonceSize()), plain, out[:1+len(ephPub)])
	return out, nil
}

// Open reverses Seal using our identity key.
func Open(self domain.Identity, data []byte) (domain.SealedSenderMessage, error) {
	if len(data) == 0 {
		return domain.SealedSenderMessage{}, ErrSealedMalformed
	}
	if data[0] != SealedVersion {
		return domain.SealedSenderMessage{}, fmt.Errorf("%w: %d", ErrSealedVersion, data[0])
	}
	if len(data) < 1+32+chacha20poly1305.Overhead {
		return domain.SealedSenderMessage{}, ErrSealedMalformed
	}

	var ephPub domain.X25519Public
	copy(ephPub[:], data[1:33])

	key, err := sealedKey(self.XPriv, ephPub, ephPub, self.XPub)
	if err != nil {
		return domain.SealedSenderMessage{}, fmt.Errorf("%w: %v", ErrSealedMalformed, err)
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return domain.SealedSenderMessage{}, err
	}
	plain, err := aead.Open(nil, make([]byte, aead.NonceSize()), data[33:], data[:33])
	if err != nil {
		return domain.SealedSenderMessage{}, fmt.Errorf("%w: %v", ErrSealedMalformed, err)
	}

	var msg domain.SealedSenderMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		return domain.SealedSenderMessage{}, fmt.Errorf("%w: %v", ErrSealedMalformed, err)
	}
	if msg.Version != SealedVersion {
		return domain.SealedSenderMessage{}, fmt.Errorf("%w: inner %d", ErrSealedVersion, msg.Version)
	}
	if msg.Sender == "" || len(msg.Content) == 0 {
		return domain.SealedSenderMessage{}, fmt.Errorf("%w: missing sender or content", ErrSealedMalformed)
	}
	return msg, nil
}

func sealedKey(
	priv domain.X25519Private,
	pub domain.X25519Public,
	ephPub domain.X25519Public,
	recipient domain.X25519Public,
) ([]byte, error) {
	shared, err := crypto.DH(priv, pub)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(shared[:])

	salt := make([]byte, 0, 64)
	salt = append(salt, ephPub[:]...)
	salt = append(salt, recipient[:]...)

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared[:], salt, []byte(sealedInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
