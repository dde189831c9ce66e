package memory

import (
	"context"
	"sync"

	"github.com/rmaldonado/avachat/internal/domain"
)

// AvatarStore is the in-memory AvatarStore.
type AvatarStore struct {
	mu      sync.Mutex
	avatars map[domain.AvatarID]*domain.Avatar

	ClearAuthorErrFor map[domain.AvatarID]error
}

func NewAvatarStore() *AvatarStore {
	return &AvatarStore{
		avatars:           make(map[domain.AvatarID]*domain.Avatar),
		ClearAuthorErrFor: make(map[domain.AvatarID]error),
	}
}

// Put seeds an avatar (test helper).
func (s *AvatarStore) Put(av *domain.Avatar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *av
	s.avatars[av.ID] = &cp
}

func (s *AvatarStore) Get(ctx context.Context, id domain.AvatarID) (*domain.Avatar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	av, ok := s.avatars[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *av
	return &cp, nil
}

func (s *AvatarStore) ListByAuthor(ctx context.Context, authorID domain.UserID) ([]*domain.Avatar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Avatar
	for _, av := range s.avatars {
		if av.AuthorID == authorID {
			cp := *av
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AvatarStore) ClearAuthor(ctx context.Context, id domain.AvatarID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ClearAuthorErrFor[id]; err != nil {
		return err
	}
	av, ok := s.avatars[id]
	if !ok {
		return nil
	}
	av.AuthorID = ""
	return nil
}
