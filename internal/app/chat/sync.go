package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

// Sync keeps conversations and their message streams in step with the
// remote store: deterministic get-or-create, full-snapshot live message
// streams, append with modified-time bump, monotonic read receipts, and
// concurrent cascading deletes.
type Sync struct {
	conversations domain.ConversationStore
	messages      domain.MessageStore
	sink          domain.EventSink
	now           func() time.Time

	mu      sync.Mutex
	watches map[domain.ConversationID]*watchSlot
}

// watchSlot is one live message watch. A slot is released at most once,
// either through its own cancel or by the takeover that displaces it.
type watchSlot struct {
	detach func()
	once   sync.Once
}

func NewSync(conversations domain.ConversationStore, messages domain.MessageStore, sink domain.EventSink) *Sync {
	return &Sync{
		conversations: conversations,
		messages:      messages,
		sink:          sink,
		now:           time.Now,
		watches:       make(map[domain.ConversationID]*watchSlot),
	}
}

// GetOrCreateConversation returns the one conversation for the pair,
// creating the remote record when absent. Idempotent: an existing record
// is returned unchanged, and losing a concurrent create race just means
// fetching the winner.
func (s *Sync) GetOrCreateConversation(ctx context.Context, userID domain.UserID, avatarID domain.AvatarID) (*domain.Conversation, error) {
	id := domain.ConversationIDFor(userID, avatarID)

	conv, err := s.conversations.Get(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}

	now := s.now()
	conv = &domain.Conversation{
		ID:         id,
		UserID:     userID,
		AvatarID:   avatarID,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.conversations.Get(ctx, id)
		}
		return nil, fmt.Errorf("create conversation %s: %w", id, err)
	}

	observability.LoggerFromContext(ctx).Info("conversation created",
		"conversation_id", id, "user_id", userID, "avatar_id", avatarID)
	return conv, nil
}

// StreamMessages opens a live view of a conversation. Each emission is the
// full current ordered message set; consumers replace their view wholesale.
// A fresh call for the same conversation takes over the watch slot: the
// replacement watch attaches first and only then is the displaced one
// released, so a takeover never leaves the conversation without a live
// view, and a failed attach leaves the prior view running. The stream is
// infinite; release it with the returned cancel.
func (s *Sync) StreamMessages(ctx context.Context, conversationID domain.ConversationID) (<-chan []*domain.Message, func(), error) {
	ch := make(chan []*domain.Message, 1)
	detach, err := s.messages.Watch(ctx, conversationID, func(msgs []*domain.Message) {
		domain.SortMessages(msgs)
		// Coalesce: a consumer that lags only ever sees the latest state.
		select {
		case ch <- msgs:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msgs:
			default:
			}
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("watch messages %s: %w", conversationID, err)
	}

	slot := &watchSlot{detach: detach}

	s.mu.Lock()
	prior := s.watches[conversationID]
	s.watches[conversationID] = slot
	s.mu.Unlock()

	// Release the displaced slot outside the critical section; its cleanup
	// takes s.mu itself.
	if prior != nil {
		s.release(conversationID, prior)
	}

	return ch, func() { s.release(conversationID, slot) }, nil
}

// release detaches a slot's store watch exactly once and clears its map
// entry, unless a takeover has already installed a replacement there.
func (s *Sync) release(conversationID domain.ConversationID, slot *watchSlot) {
	slot.once.Do(func() {
		s.mu.Lock()
		if s.watches[conversationID] == slot {
			delete(s.watches, conversationID)
		}
		s.mu.Unlock()
		slot.detach()
	})
}

// AppendMessage writes the message and bumps the parent conversation's
// ModifiedAt. The two writes are not atomic with each other; a failed bump
// is surfaced so the caller can retry and the list ordering converges.
func (s *Sync) AppendMessage(ctx context.Context, conversationID domain.ConversationID, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.NewString())
	}
	msg.ConversationID = conversationID

	if err := s.messages.Append(ctx, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if err := s.conversations.TouchModified(ctx, conversationID, s.now()); err != nil {
		return fmt.Errorf("touch conversation %s: %w", conversationID, err)
	}
	return nil
}

// MarkSeen records that userID has seen the message. The underlying write
// is a monotonic set union; concurrent readers never erase each other.
func (s *Sync) MarkSeen(ctx context.Context, conversationID domain.ConversationID, messageID domain.MessageID, userID domain.UserID) error {
	if err := s.messages.MarkSeen(ctx, conversationID, messageID, userID); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// ListConversations returns the user's conversations, most recently
// modified first.
func (s *Sync) ListConversations(ctx context.Context, userID domain.UserID) ([]*domain.Conversation, error) {
	convs, err := s.conversations.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	domain.SortConversationsByModified(convs)
	return convs, nil
}

// DeleteConversation removes the conversation record and all its messages.
// The two deletions run concurrently and both must succeed; a message
// deletion failure is never swallowed.
func (s *Sync) DeleteConversation(ctx context.Context, conversationID domain.ConversationID) error {
	var g errgroup.Group
	g.Go(func() error {
		if err := s.conversations.Delete(ctx, conversationID); err != nil {
			return fmt.Errorf("delete conversation record %s: %w", conversationID, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.messages.DeleteAll(ctx, conversationID); err != nil {
			return fmt.Errorf("delete messages of %s: %w", conversationID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.sink.Emit(ctx, "conversation.deleted", "conversation_id", conversationID)
	return nil
}

// DeleteAllConversationsForUser fans deletion out across every
// conversation of the user with unordered concurrency. The whole operation
// fails if any deletion fails, but completed deletions are not rolled
// back; this cascade is best-effort and non-transactional, and retrying it
// is safe because deleting the already-deleted is a no-op success.
func (s *Sync) DeleteAllConversationsForUser(ctx context.Context, userID domain.UserID) error {
	convs, err := s.conversations.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list conversations of %s: %w", userID, err)
	}

	var g errgroup.Group
	for _, conv := range convs {
		conv := conv
		g.Go(func() error {
			return s.DeleteConversation(ctx, conv.ID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	observability.LoggerFromContext(ctx).Info("deleted all conversations",
		"user_id", userID, "count", len(convs))
	return nil
}
