package models

// DeletedPlaceholder is the only text a consumer may see for a message
// whose deletion state is not Active.
const DeletedPlaceholder = "This message was deleted"

// ContentKind tags the content union of a message.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	ContentAlbum ContentKind = "album"
)

// Content is the tagged union carried by a message: plain text, a single
// image, or a multi-image album. Captions apply to the image kinds.
type Content struct {
	Kind      ContentKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	ImageURLs []string    `json:"image_urls,omitempty"`
}

// DeletionKind is the message deletion state. States are mutually
// exclusive and terminal once non-Active.
type DeletionKind string

const (
	DeletionActive      DeletionKind = "active"
	DeletionUnsent      DeletionKind = "unsent_by_author"
	DeletionForEveryone DeletionKind = "deleted_for_everyone"
)

// DeletionState records how (and by whom) a message was deleted. By and TS
// are meaningful only for DeletionForEveryone.
type DeletionState struct {
	Kind DeletionKind `json:"kind"`
	By   string       `json:"by,omitempty"`
	TS   int64        `json:"ts,omitempty"`
}

// EditState tracks the at-most-once edit metadata of a message. Original
// is captured on the first edit only and never overwritten.
type EditState struct {
	Edited   bool     `json:"edited,omitempty"`
	EditedTS int64    `json:"edited_ts,omitempty"`
	Original *Content `json:"original,omitempty"`
}

type Message struct {
	ID       string `json:"id"`
	ChatID   string `json:"chat"`
	SenderID string `json:"sender"`
	// SentTS is the send timestamp (ns)
	SentTS   int64         `json:"ts"`
	Content  Content       `json:"content"`
	Edit     EditState     `json:"edit,omitempty"`
	Deletion DeletionState `json:"deletion,omitempty"`
	// Reactions maps emoji -> set of reactor user ids (membership, not
	// multiset). Counts are derived, never stored.
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// Active reports whether the message has not been deleted in any mode.
func (m *Message) Active() bool {
	return m.Deletion.Kind == "" || m.Deletion.Kind == DeletionActive
}

// VisibleText returns the display text for the message, substituting the
// fixed placeholder when the message is deleted. Content of a non-Active
// message must never reach a consumer through any other path.
func (m *Message) VisibleText() string {
	if !m.Active() {
		return DeletedPlaceholder
	}
	switch m.Content.Kind {
	case ContentImage, ContentAlbum:
		return m.Content.Caption
	default:
		return m.Content.Text
	}
}

// ReactionCount recomputes the total number of reactors across all emoji
// from the reaction sets. There is deliberately no stored counter to
// drift from the mapping.
func (m *Message) ReactionCount() int {
	n := 0
	for _, users := range m.Reactions {
		n += len(users)
	}
	return n
}

// HasReaction reports whether user already reacted with emoji.
func (m *Message) HasReaction(emoji, user string) bool {
	for _, u := range m.Reactions[emoji] {
		if u == user {
			return true
		}
	}
	return false
}

// AddReaction records a reaction as set membership; repeated reactions by
// the same user are no-ops.
func (m *Message) AddReaction(emoji, user string) {
	if m.HasReaction(emoji, user) {
		return
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], user)
}

// RemoveReaction drops a user's reaction for emoji if present.
func (m *Message) RemoveReaction(emoji, user string) {
	users := m.Reactions[emoji]
	for i, u := range users {
		if u == user {
			m.Reactions[emoji] = append(users[:i], users[i+1:]...)
			if len(m.Reactions[emoji]) == 0 {
				delete(m.Reactions, emoji)
			}
			return
		}
	}
}
