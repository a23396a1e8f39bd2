package store

import (
	"path/filepath"
	"sync"

	"courier/internal/domain"
)

const convFilename = "conversations.json"

// RatchetFileStore persists per-device Double-Ratchet state to disk.
type RatchetFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewRatchetFileStore returns a RatchetFileStore rooted at dir.
func NewRatchetFileStore(dir string) *RatchetFileStore {
	return &RatchetFileStore{dir: dir}
}

// SaveConversation writes the Conversation for peer.
func (s *RatchetFileStore) SaveConversation(peer domain.ConversationID, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateMap(filepath.Join(s.dir, convFilename), func(m map[domain.ConversationID]domain.Conversation) bool {
		m[peer] = conv
		return true
	})
}

// LoadConversation retrieves the Conversation for peer.
func (s *RatchetFileStore) LoadConversation(peer domain.ConversationID) (domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, convFilename)
	m := map[domain.ConversationID]domain.Conversation{}
	if err := readJSON(path, &m); err != nil {
		return domain.Conversation{}, false, err
	}
	c, ok := m[peer]
	return c, ok, nil
}

// DeleteConversation drops the ratchet state for peer so the next message
// has to bootstrap a new session.
func (s *RatchetFileStore) DeleteConversation(peer domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateMap(filepath.Join(s.dir, convFilename), func(m map[domain.ConversationID]domain.Conversation) bool {
		_, ok := m[peer]
		delete(m, peer)
		return ok
	})
}

// Compile-time assertion that RatchetFileStore implements domain.RatchetStore.
var _ domain.RatchetStore = (*RatchetFileStore)(nil)
