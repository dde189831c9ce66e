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

// Avatars implements domain.AvatarStore.
type Avatars struct {
	s *Store
}

func (a *Avatars) col() *firestore.CollectionRef {
	return a.s.client.Collection("avatars")
}

func (a *Avatars) ListByAuthor(ctx context.Context, authorID domain.UserID) ([]*domain.Avatar, error) {
	it := a.col().Where("author_id", "==", string(authorID)).Documents(ctx)
	defer it.Stop()

	var out []*domain.Avatar
	for {
		snap, err := it.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore list avatars by author: %w", err)
		}
		var doc avatarDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode avatarDoc: %w", err)
		}
		out = append(out, &domain.Avatar{
			ID:        domain.AvatarID(snap.Ref.ID),
			AuthorID:  domain.UserID(doc.AuthorID),
			Name:      doc.Name,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}

func (a *Avatars) ClearAuthor(ctx context.Context, id domain.AvatarID) error {
	_, err := a.col().Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "author_id", Value: ""},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Nothing to unlink; treat as done.
			return nil
		}
		return fmt.Errorf("firestore clear avatar author: %w", err)
	}
	return nil
}

// compile-time interface check
var _ domain.AvatarStore = (*Avatars)(nil)
