package domain

import "context"

// AuthProvider is the auth collaborator boundary. Sign-in calls return the
// resulting identity plus whether the provider reports it as newly
// created, and notify every subscribed listener with the new auth state.
//
// Failures at this boundary are *AuthError values from the closed AuthCode
// set.
type AuthProvider interface {
	SignInAnonymously(ctx context.Context) (*Identity, bool, error)
	SignInWithCredential(ctx context.Context, cred Credential) (*Identity, bool, error)

	// LinkCredential attaches cred to the currently signed-in identity.
	LinkCredential(ctx context.Context, cred Credential) (*Identity, bool, error)

	SignOut(ctx context.Context) error

	// DeleteIdentity permanently removes the signed-in identity from the
	// provider. Deleting an already-deleted identity is a no-op success.
	DeleteIdentity(ctx context.Context) error

	// Subscribe registers a listener for auth-state changes (nil identity
	// on sign-out). The returned func detaches the listener.
	Subscribe(fn func(*Identity)) (cancel func())
}

// CredentialSource produces a fresh federated credential by re-running the
// interactive sign-in flow. Implemented by the presentation layer; the
// core only calls it during reauthentication.
type CredentialSource interface {
	FreshFederatedCredential(ctx context.Context) (Credential, error)
}

// CredentialSourceFunc adapts a func to CredentialSource.
type CredentialSourceFunc func(ctx context.Context) (Credential, error)

func (f CredentialSourceFunc) FreshFederatedCredential(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// ProfileStore persists Profile records.
//
// Watch delivers the current record (nil when absent) and then every
// remote change, asynchronously, until cancelled. At most one watch per
// userId is expected to be alive; the caller owns that slot.
type ProfileStore interface {
	Get(ctx context.Context, userID UserID) (*Profile, error)

	// CreateIfAbsent writes the given defaults only when no record exists
	// for profile.UserID. Existing remote state is never overwritten.
	CreateIfAbsent(ctx context.Context, profile *Profile) error

	SetOnboardingComplete(ctx context.Context, userID UserID, complete bool) error

	// Delete is a no-op success when the record is already gone.
	Delete(ctx context.Context, userID UserID) error

	Watch(ctx context.Context, userID UserID, fn func(*Profile)) (cancel func(), err error)
}

// ConversationStore persists Conversation records.
type ConversationStore interface {
	Get(ctx context.Context, id ConversationID) (*Conversation, error)

	// Create fails with ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, conv *Conversation) error

	ListByUser(ctx context.Context, userID UserID) ([]*Conversation, error)
	TouchModified(ctx context.Context, id ConversationID, at Timestamp) error

	// Delete is a no-op success when the record is already gone.
	Delete(ctx context.Context, id ConversationID) error
}

// MessageStore persists the messages of a conversation.
//
// Watch delivers the full current message set (unordered) and then the
// full set again on every change, asynchronously, until cancelled.
type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	List(ctx context.Context, conversationID ConversationID) ([]*Message, error)

	// MarkSeen adds userID to the message's SeenBy set as a monotonic
	// union: concurrent calls from different readers never lose an entry.
	MarkSeen(ctx context.Context, conversationID ConversationID, messageID MessageID, userID UserID) error

	// DeleteAll removes every message of the conversation.
	DeleteAll(ctx context.Context, conversationID ConversationID) error

	Watch(ctx context.Context, conversationID ConversationID, fn func([]*Message)) (cancel func(), err error)
}

// AvatarStore persists avatars. Cascade deletion only ever clears the
// authorship link; it never deletes avatar records.
type AvatarStore interface {
	ListByAuthor(ctx context.Context, authorID UserID) ([]*Avatar, error)
	ClearAuthor(ctx context.Context, id AvatarID) error
}

// LocalStore holds purely device-local cached records keyed by user.
type LocalStore interface {
	ClearUser(ctx context.Context, userID UserID) error
}

// EventSink receives named events with key/value parameters at defined
// transition points. Transport and sanitization are not the core's
// concern.
type EventSink interface {
	Emit(ctx context.Context, name string, kv ...any)
}
