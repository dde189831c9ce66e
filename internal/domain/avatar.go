package domain

// Avatar is a user-authored chat persona. Avatars stay live for other
// users after their author's account is purged; only the authorship link
// is cleared.
type Avatar struct {
	ID        AvatarID
	AuthorID  UserID
	Name      string
	CreatedAt Timestamp
}
