package memory

import (
	"context"
	"sync"

	"github.com/rmaldonado/avachat/internal/domain"
)

// LocalStore stands in for the device-local cache (draft messages, cached
// media lookups) that cascade deletion clears.
type LocalStore struct {
	mu      sync.Mutex
	entries map[domain.UserID]map[string]string
}

func NewLocalStore() *LocalStore {
	return &LocalStore{entries: make(map[domain.UserID]map[string]string)}
}

func (s *LocalStore) Put(userID domain.UserID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[userID] == nil {
		s.entries[userID] = make(map[string]string)
	}
	s.entries[userID][key] = value
}

func (s *LocalStore) Get(userID domain.UserID, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[userID][key]
	return v, ok
}

func (s *LocalStore) ClearUser(ctx context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}
