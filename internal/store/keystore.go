package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const keystoreVersion = 2

// ErrWrongPassphrase is returned when a sealed file cannot be opened, either
// because the passphrase is wrong or the file was modified.
var ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted keystore")

// kdfParams are the Argon2id cost settings recorded next to the ciphertext
// so they can be raised later without breaking existing files.
type kdfParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory_kib"`
	Threads uint8  `json:"threads"`
}

var defaultKDF = kdfParams{Time: 3, Memory: 64 * 1024, Threads: 4}

type sealedFile struct {
	Version int       `json:"v"`
	KDF     kdfParams `json:"kdf"`
	Salt    []byte    `json:"salt"`
	Nonce   []byte    `json:"nonce"`
	Data    []byte    `json:"data"`
}

func (p kdfParams) key(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Threads, chacha20poly1305.KeySize)
}

// seal encrypts v as JSON under a key derived from passphrase.
func seal(passphrase string, v any, kdf kdfParams) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	sf := sealedFile{
		Version: keystoreVersion,
		KDF:     kdf,
		Salt:    make([]byte, 16),
		Nonce:   make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(sf.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(sf.Nonce); err != nil {
		return nil, err
	}

	key := kdf.key(passphrase, sf.Salt)
	defer clear(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	sf.Data = aead.Seal(nil, sf.Nonce, raw, sf.Salt)
	clear(raw)
	return json.Marshal(sf)
}

// open reverses seal into out.
func open(passphrase string, b []byte, out any) error {
	var sf sealedFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return fmt.Errorf("parse keystore: %w", err)
	}
	if sf.Version != keystoreVersion {
		return fmt.Errorf("unsupported keystore version %d", sf.Version)
	}
	if len(sf.Nonce) != chacha20poly1305.NonceSizeX {
		return ErrWrongPassphrase
	}

	key := sf.KDF.key(passphrase, sf.Salt)
	defer clear(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	raw, err := aead.Open(nil, sf.Nonce, sf.Data, sf.Salt)
	if err != nil {
		return ErrWrongPassphrase
	}
	defer clear(raw)
	return json.Unmarshal(raw, out)
}
