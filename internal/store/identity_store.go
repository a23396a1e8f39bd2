package store

import (
	"os"
	"path/filepath"
	"sync"

	"courier/internal/domain"
)

const identityFile = "identity.sealed"

// IdentityFileStore keeps the long-term identity sealed under the user's
// passphrase.
type IdentityFileStore struct {
	path string
	kdf  kdfParams
	mu   sync.Mutex
}

func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{path: filepath.Join(dir, identityFile), kdf: defaultKDF}
}

func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := seal(passphrase, id, s.kdf)
	if err != nil {
		return err
	}
	return writeFile(s.path, b, 0o600)
}

// LoadIdentity returns an error matching fs.ErrNotExist when no identity
// has been created yet.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id domain.Identity
	b, err := os.ReadFile(s.path)
	if err != nil {
		return id, err
	}
	if err := open(passphrase, b, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

var _ domain.IdentityStore = (*IdentityFileStore)(nil)
