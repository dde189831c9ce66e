package memory

import (
	"context"
	"sync"

	"github.com/rmaldonado/avachat/internal/domain"
)

// MessageStore is the in-memory MessageStore. Every mutation re-delivers
// the full message set to active watchers, mirroring snapshot listeners.
type MessageStore struct {
	mu        sync.Mutex
	messages  map[domain.ConversationID][]*domain.Message
	watchers  map[domain.ConversationID]map[int]*watcher[[]*domain.Message]
	nextWatch int

	DeleteAllErrFor map[domain.ConversationID]error
	WatchErr        error
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages:        make(map[domain.ConversationID][]*domain.Message),
		watchers:        make(map[domain.ConversationID]map[int]*watcher[[]*domain.Message]),
		DeleteAllErrFor: make(map[domain.ConversationID]error),
	}
}

func (s *MessageStore) Append(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyMessage(msg)
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], cp)
	s.notifyLocked(msg.ConversationID)
	return nil
}

func (s *MessageStore) List(ctx context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(conversationID), nil
}

func (s *MessageStore) MarkSeen(ctx context.Context, conversationID domain.ConversationID, messageID domain.MessageID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[conversationID] {
		if m.ID != messageID {
			continue
		}
		// Set union under the lock; concurrent markers can only add.
		if !m.SeenByUser(userID) {
			m.SeenBy = append(m.SeenBy, userID)
			s.notifyLocked(conversationID)
		}
		return nil
	}
	return domain.ErrNotFound
}

func (s *MessageStore) DeleteAll(ctx context.Context, conversationID domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.DeleteAllErrFor[conversationID]; err != nil {
		return err
	}
	delete(s.messages, conversationID)
	s.notifyLocked(conversationID)
	return nil
}

func (s *MessageStore) Watch(ctx context.Context, conversationID domain.ConversationID, fn func([]*domain.Message)) (func(), error) {
	w := newWatcher(fn)

	s.mu.Lock()
	if err := s.WatchErr; err != nil {
		s.mu.Unlock()
		w.close()
		return nil, err
	}
	id := s.nextWatch
	s.nextWatch++
	if s.watchers[conversationID] == nil {
		s.watchers[conversationID] = make(map[int]*watcher[[]*domain.Message])
	}
	s.watchers[conversationID][id] = w
	w.deliver(s.snapshotLocked(conversationID))
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.watchers[conversationID][id]; ok {
			cur.close()
			delete(s.watchers[conversationID], id)
		}
	}
	return cancel, nil
}

// Count reports how many messages a conversation holds (test helper).
func (s *MessageStore) Count(conversationID domain.ConversationID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID])
}

func (s *MessageStore) snapshotLocked(conversationID domain.ConversationID) []*domain.Message {
	msgs := s.messages[conversationID]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, copyMessage(m))
	}
	return out
}

func (s *MessageStore) notifyLocked(conversationID domain.ConversationID) {
	cur := s.snapshotLocked(conversationID)
	for _, w := range s.watchers[conversationID] {
		w.deliver(cur)
	}
}

func copyMessage(m *domain.Message) *domain.Message {
	cp := *m
	cp.SeenBy = append([]domain.UserID(nil), m.SeenBy...)
	return &cp
}
