package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

// Messages implements domain.MessageStore on the per-conversation
// "messages" subcollection.
type Messages struct {
	s *Store
}

func (m *Messages) col(conversationID domain.ConversationID) *firestore.CollectionRef {
	return m.s.client.Collection("conversations").Doc(string(conversationID)).Collection("messages")
}

func (m *Messages) doc(conversationID domain.ConversationID, msgID domain.MessageID) *firestore.DocumentRef {
	return m.col(conversationID).Doc(string(msgID))
}

func (m *Messages) Append(ctx context.Context, msg *domain.Message) error {
	seenBy := make([]string, 0, len(msg.SeenBy))
	for _, u := range msg.SeenBy {
		seenBy = append(seenBy, string(u))
	}

	_, err := m.doc(msg.ConversationID, msg.ID).Create(ctx, messageDoc{
		AuthorID:  string(msg.AuthorID),
		Content:   msg.Content,
		SeenBy:    seenBy,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("firestore append message: %w", err)
	}
	return nil
}

func (m *Messages) List(ctx context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	// No OrderBy here: documents missing created_at would drop out of an
	// ordered query entirely. Ordering is applied by the caller, where a
	// zero timestamp sorts first.
	it := m.col(conversationID).Documents(ctx)
	defer it.Stop()

	var out []*domain.Message
	for {
		snap, err := it.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore list messages: %w", err)
		}
		msg, err := decodeMessage(snap, conversationID)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *Messages) MarkSeen(ctx context.Context, conversationID domain.ConversationID, messageID domain.MessageID, userID domain.UserID) error {
	// ArrayUnion is the store-side monotonic union; concurrent readers
	// cannot erase each other the way a read-modify-write could.
	_, err := m.doc(conversationID, messageID).Update(ctx, []firestore.Update{
		{Path: "seen_by", Value: firestore.ArrayUnion(string(userID))},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrNotFound
		}
		return fmt.Errorf("firestore mark seen: %w", err)
	}
	return nil
}

func (m *Messages) DeleteAll(ctx context.Context, conversationID domain.ConversationID) error {
	it := m.col(conversationID).Select().Documents(ctx)
	defer it.Stop()

	bw := m.s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		snap, err := it.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return fmt.Errorf("firestore delete-all list: %w", err)
		}
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			return fmt.Errorf("firestore delete-all enqueue: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("firestore delete-all message: %w", err)
		}
	}
	return nil
}

func (m *Messages) Watch(ctx context.Context, conversationID domain.ConversationID, fn func([]*domain.Message)) (func(), error) {
	wctx, cancel := context.WithCancel(ctx)
	it := m.col(conversationID).Snapshots(wctx)

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					observability.Logger().Error("message snapshot stream ended", "conversation_id", conversationID, "error", err)
				}
				return
			}

			msgs, err := m.collectSnapshot(qs, conversationID)
			if err != nil {
				observability.Logger().Error("read message snapshot", "conversation_id", conversationID, "error", err)
				continue
			}
			fn(msgs)
		}
	}()

	return cancel, nil
}

func (m *Messages) collectSnapshot(qs *firestore.QuerySnapshot, conversationID domain.ConversationID) ([]*domain.Message, error) {
	var out []*domain.Message
	for {
		snap, err := qs.Documents.Next()
		if err != nil {
			if err == iterator.Done {
				return out, nil
			}
			return nil, err
		}
		msg, err := decodeMessage(snap, conversationID)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
}

func decodeMessage(snap *firestore.DocumentSnapshot, conversationID domain.ConversationID) (*domain.Message, error) {
	var doc messageDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode messageDoc: %w", err)
	}
	seenBy := make([]domain.UserID, 0, len(doc.SeenBy))
	for _, u := range doc.SeenBy {
		seenBy = append(seenBy, domain.UserID(u))
	}
	return &domain.Message{
		ID:             domain.MessageID(snap.Ref.ID),
		ConversationID: conversationID,
		AuthorID:       domain.UserID(doc.AuthorID),
		Content:        doc.Content,
		SeenBy:         seenBy,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

// compile-time interface check
var _ domain.MessageStore = (*Messages)(nil)
