package store

import (
	"path/filepath"
	"sync"

	"courier/internal/domain"
)

const bundleFile = "bundle.json"

// BundleFileStore caches the last prekey bundle you registered.
type BundleFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewBundleFileStore returns a BundleFileStore rooted at dir.
func NewBundleFileStore(dir string) *BundleFileStore {
	return &BundleFileStore{dir: dir}
}

// SavePreKeyBundle writes the bundle to disk.
func (s *BundleFileStore) SavePreKeyBundle(b domain.PreKeyBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, bundleFile)
	return writeJSON(path, b, 0o600)
}

// LoadPreKeyBundle returns the cached bundle and whether it was present.
// Only one bundle is cached; a bundle for another username reads as absent.
func (s *BundleFileStore) LoadPreKeyBundle(username domain.Username) (domain.PreKeyBundle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, bundleFile)

	var b domain.PreKeyBundle
	if err := readJSON(path, &b); err != nil {
		return domain.PreKeyBundle{}, false, err
	}
	if b.Username == "" || b.Username != username {
		return domain.PreKeyBundle{}, false, nil
	}
	return b, true, nil
}

// Compile-time assertion that BundleFileStore implements domain.PreKeyBundleStore.
var _ domain.PreKeyBundleStore = (*BundleFileStore)(nil)
