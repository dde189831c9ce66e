package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rmaldonado/avachat/internal/domain"
)

// Conversations implements domain.ConversationStore.
type Conversations struct {
	s *Store
}

func (c *Conversations) col() *firestore.CollectionRef {
	return c.s.client.Collection("conversations")
}

func (c *Conversations) doc(id domain.ConversationID) *firestore.DocumentRef {
	return c.col().Doc(string(id))
}

func (c *Conversations) Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	snap, err := c.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore get conversation: %w", err)
	}
	return decodeConversation(snap)
}

func (c *Conversations) Create(ctx context.Context, conv *domain.Conversation) error {
	_, err := c.doc(conv.ID).Create(ctx, conversationDoc{
		UserID:     string(conv.UserID),
		AvatarID:   string(conv.AvatarID),
		CreatedAt:  conv.CreatedAt,
		ModifiedAt: conv.ModifiedAt,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("firestore create conversation: %w", err)
	}
	return nil
}

func (c *Conversations) ListByUser(ctx context.Context, userID domain.UserID) ([]*domain.Conversation, error) {
	it := c.col().Where("user_id", "==", string(userID)).Documents(ctx)
	defer it.Stop()

	var out []*domain.Conversation
	for {
		snap, err := it.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore list conversations: %w", err)
		}
		conv, err := decodeConversation(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

func (c *Conversations) TouchModified(ctx context.Context, id domain.ConversationID, at domain.Timestamp) error {
	_, err := c.doc(id).Update(ctx, []firestore.Update{
		{Path: "modified_at", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrNotFound
		}
		return fmt.Errorf("firestore touch conversation: %w", err)
	}
	return nil
}

func (c *Conversations) Delete(ctx context.Context, id domain.ConversationID) error {
	if _, err := c.doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete conversation: %w", err)
	}
	return nil
}

func decodeConversation(snap *firestore.DocumentSnapshot) (*domain.Conversation, error) {
	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode conversationDoc: %w", err)
	}
	return &domain.Conversation{
		ID:         domain.ConversationID(snap.Ref.ID),
		UserID:     domain.UserID(doc.UserID),
		AvatarID:   domain.AvatarID(doc.AvatarID),
		CreatedAt:  doc.CreatedAt,
		ModifiedAt: doc.ModifiedAt,
	}, nil
}

// compile-time interface check
var _ domain.ConversationStore = (*Conversations)(nil)
