package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type UserID string
type AvatarID string
type ConversationID string
type MessageID string

type Timestamp = time.Time

// ConversationIDFor derives the id of the conversation between a user and
// an avatar. The id is a pure function of the pair, so there is at most one
// conversation per (user, avatar) no matter who computes it first.
func ConversationIDFor(userID UserID, avatarID AvatarID) ConversationID {
	sum := sha256.Sum256([]byte(string(userID) + "_" + string(avatarID)))
	return ConversationID(hex.EncodeToString(sum[:]))
}
