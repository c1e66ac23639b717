package models

// LastMessage is the denormalized chat-list entry for a thread.
type LastMessage struct {
	Text     string `json:"text,omitempty"`
	SenderID string `json:"sender,omitempty"`
	TS       int64  `json:"ts,omitempty"`
}

type ChatThread struct {
	ID             string   `json:"id"`
	ParticipantIDs []string `json:"participants"`
	IsGroup        bool     `json:"is_group,omitempty"`
	// AdminIDs is a subset of participants; meaningful only when IsGroup.
	AdminIDs []string `json:"admins,omitempty"`
	Last     LastMessage `json:"last,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64  `json:"created_ts,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

// IsAdmin reports whether user is a group admin of the thread. Always
// false for 1:1 chats, where admin lists are ignored.
func (t *ChatThread) IsAdmin(user string) bool {
	if !t.IsGroup {
		return false
	}
	for _, id := range t.AdminIDs {
		if id == user {
			return true
		}
	}
	return false
}

// HasParticipant reports membership; participant order is irrelevant.
func (t *ChatThread) HasParticipant(user string) bool {
	for _, id := range t.ParticipantIDs {
		if id == user {
			return true
		}
	}
	return false
}

// ChatSummary is the subscribable per-chat summary record delivered by
// the remote store on every chat document mutation.
type ChatSummary struct {
	ChatID            string `json:"chat"`
	LastMessageText   string `json:"last_text,omitempty"`
	LastMessageSender string `json:"last_sender,omitempty"`
	// LastMessageTS is the timestamp (ns) of the newest message
	LastMessageTS int64 `json:"last_ts,omitempty"`
	IsGroup       bool  `json:"is_group,omitempty"`
}

// Role carries the acting user's standing in a chat for policy decisions.
type Role struct {
	IsGroupAdmin bool
	IsGroupChat  bool
}
