package domain

import "sort"

// Conversation is a chat thread between a user and an avatar. Its ID is
// always ConversationIDFor(UserID, AvatarID).
type Conversation struct {
	ID         ConversationID
	UserID     UserID
	AvatarID   AvatarID
	CreatedAt  Timestamp
	ModifiedAt Timestamp
}

// Message is one entry in a conversation. Messages are append-only: the
// only mutation after creation is adding readers to SeenBy.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	AuthorID       UserID
	Content        string

	// SeenBy grows monotonically; entries are never removed.
	SeenBy []UserID

	// CreatedAt may be zero when the server timestamp has not resolved
	// yet; a zero value orders before everything else.
	CreatedAt Timestamp
}

// SeenByUser reports whether userID has marked the message seen.
func (m *Message) SeenByUser(userID UserID) bool {
	for _, u := range m.SeenBy {
		if u == userID {
			return true
		}
	}
	return false
}

// SortMessages orders messages ascending by CreatedAt, ties broken by id.
// A zero CreatedAt sorts first (the zero time is already the minimum, so
// no special casing is needed).
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SortConversationsByModified orders conversations by ModifiedAt, newest
// first, for the "most recent" list.
func SortConversationsByModified(convs []*Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].ModifiedAt.After(convs[j].ModifiedAt)
	})
}
