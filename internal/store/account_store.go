package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"courier/internal/domain"
)

const accountsFile = "accounts.json"

// AccountFileStore persists per-relay account profiles to disk.
type AccountFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewAccountFileStore returns an AccountFileStore rooted at dir.
func NewAccountFileStore(dir string) *AccountFileStore {
	return &AccountFileStore{dir: dir}
}

// SaveAccountProfile stores or updates the given profile.
func (s *AccountFileStore) SaveAccountProfile(profile domain.AccountProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, accountsFile)
	profiles := make(map[string]domain.AccountProfile)
	_ = readJSON(path, &profiles)
	profiles[accountKey(profile.ServerURL, profile.Username)] = profile
	return writeJSON(path, profiles, 0o600)
}

// LoadAccountProfile retrieves a profile for (serverURL, username).
func (s *AccountFileStore) LoadAccountProfile(
	serverURL string,
	username domain.Username,
) (domain.AccountProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, accountsFile)
	profiles := make(map[string]domain.AccountProfile)
	if err := readJSON(path, &profiles); err != nil {
		return domain.AccountProfile{}, false, err
	}
	profile, ok := profiles[accountKey(serverURL, username)]
	return profile, ok, nil
}

// AccountView answers registration and push queries for one profile. It
// re-reads the profile on every call so `register` in another process is
// picked up by a running client.
type AccountView struct {
	store     *AccountFileStore
	serverURL string
	username  domain.Username
}

// View returns an AccountView for (serverURL, username).
func (s *AccountFileStore) View(serverURL string, username domain.Username) *AccountView {
	return &AccountView{store: s, serverURL: serverURL, username: username}
}

// IsRegistered reports whether the relay accepted this account's bundle.
func (v *AccountView) IsRegistered() bool {
	p, ok, err := v.store.LoadAccountProfile(v.serverURL, v.username)
	return err == nil && ok && p.Registered
}

// IsPushEnabled reports whether the relay can wake this client.
func (v *AccountView) IsPushEnabled() bool {
	p, ok, err := v.store.LoadAccountProfile(v.serverURL, v.username)
	return err == nil && ok && p.PushEnabled
}

func accountKey(serverURL string, username domain.Username) string {
	return fmt.Sprintf("%s|%s", serverURL, username.String())
}

// Compile-time assertions.
var (
	_ domain.AccountStore = (*AccountFileStore)(nil)
	_ domain.AccountState = (*AccountView)(nil)
)
