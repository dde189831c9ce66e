package memory

import (
	"context"
	"sync"

	"github.com/rmaldonado/avachat/internal/domain"
)

// ConversationStore is the in-memory ConversationStore. DeleteErrFor makes
// deletion of specific conversations fail, for partial-failure tests.
type ConversationStore struct {
	mu            sync.Mutex
	conversations map[domain.ConversationID]*domain.Conversation

	DeleteErrFor map[domain.ConversationID]error
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[domain.ConversationID]*domain.Conversation),
		DeleteErrFor:  make(map[domain.ConversationID]error),
	}
}

func (s *ConversationStore) Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *ConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

func (s *ConversationStore) ListByUser(ctx context.Context, userID domain.UserID) ([]*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			cp := *conv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *ConversationStore) TouchModified(ctx context.Context, id domain.ConversationID, at domain.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	conv.ModifiedAt = at
	return nil
}

func (s *ConversationStore) Delete(ctx context.Context, id domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.DeleteErrFor[id]; err != nil {
		return err
	}
	delete(s.conversations, id)
	return nil
}

// Len reports the number of stored conversations (test helper).
func (s *ConversationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}
