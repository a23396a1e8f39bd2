package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"unicode"

	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
)

// minPassphraseLength is the shortest passphrase accepted for a new identity.
const minPassphraseLength = 12

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrIdentityExists is returned by GenerateIdentity when an identity is
	// already stored and overwrite was not requested.
	ErrIdentityExists = errors.New("identity already exists")
)

// Service creates and unlocks the local account identity. The identity holds
// an X25519 pair for X3DH and the ratchet, and an Ed25519 pair that signs
// prekeys.
type Service struct {
	store     domain.IdentityStore
	overwrite bool
}

// New returns an identity service backed by the given store. GenerateIdentity
// refuses to replace an identity unless overwrite is set.
func New(s domain.IdentityStore, overwrite bool) *Service {
	return &Service{store: s, overwrite: overwrite}
}

// GenerateIdentity creates a new identity, stores it sealed with passphrase
// and returns it with its fingerprint.
func (s *Service) GenerateIdentity(passphrase string) (domain.Identity, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Identity{}, "", ErrWeakPassphrase
	}
	if !s.overwrite {
		// Any answer but "not found", including a wrong passphrase, means
		// something is stored.
		if _, err := s.store.LoadIdentity(passphrase); !errors.Is(err, fs.ErrNotExist) {
			return domain.Identity{}, "", ErrIdentityExists
		}
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, "", err
	}
	edPriv, edPub, err := crypto.GenerateSigningKey()
	if err != nil {
		return domain.Identity{}, "", err
	}

	id := domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}

	fp := fingerprint(id)
	logrus.WithFields(logrus.Fields{
		"function":    "GenerateIdentity",
		"fingerprint": fp,
	}).Info("Generated identity")
	return id, fp, nil
}

// LoadIdentity unseals and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns the fingerprint of the local identity key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return fingerprint(id), nil
}

func fingerprint(id domain.Identity) domain.Fingerprint {
	return domain.Fingerprint(crypto.Fingerprint(id.PublicKeys()...))
}

func isSecurePassphrase(passphrase string) bool {
	if len([]rune(passphrase)) < minPassphraseLength {
		return false
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
