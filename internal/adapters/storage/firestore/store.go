package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

// Store wraps one Firestore client and hands out typed views implementing
// the individual store ports. Messages live in a subcollection of their
// conversation, so a message is never addressable without its conversation
// document path.
type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (AVACHAT_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Profiles() *Profiles           { return &Profiles{s: s} }
func (s *Store) Conversations() *Conversations { return &Conversations{s: s} }
func (s *Store) Messages() *Messages           { return &Messages{s: s} }
func (s *Store) Avatars() *Avatars             { return &Avatars{s: s} }

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type profileDoc struct {
	OnboardingComplete bool   `firestore:"onboarding_complete"`
	ProfileColor       string `firestore:"profile_color"`
	CreationAppVersion string `firestore:"creation_app_version"`
}

type conversationDoc struct {
	UserID     string    `firestore:"user_id"`
	AvatarID   string    `firestore:"avatar_id"`
	CreatedAt  time.Time `firestore:"created_at"`
	ModifiedAt time.Time `firestore:"modified_at"`
}

type messageDoc struct {
	AuthorID  string    `firestore:"author_id"`
	Content   string    `firestore:"content"`
	SeenBy    []string  `firestore:"seen_by"`
	CreatedAt time.Time `firestore:"created_at"`
}

type avatarDoc struct {
	AuthorID  string    `firestore:"author_id"`
	Name      string    `firestore:"name"`
	CreatedAt time.Time `firestore:"created_at"`
}
