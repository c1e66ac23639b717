package view

import (
	"time"

	"github.com/dustin/go-humanize"

	"chatcore/pkg/models"
	"chatcore/pkg/policy"
	"chatcore/pkg/store"
)

// VisibleState returns the content a renderer may show for a message.
// Deleted messages expose only the fixed placeholder, never their
// content.
func VisibleState(m *models.Message) models.Content {
	if !m.Active() {
		return models.Content{Kind: models.ContentText, Text: models.DeletedPlaceholder}
	}
	return m.Content
}

// Actions is the set of operations the deletion UI may offer on a
// message. DeleteForMe is the only action available on someone else's
// message outside any window.
type Actions struct {
	Unsend            bool `json:"unsend"`
	DeleteForEveryone bool `json:"delete_for_everyone"`
	DeleteForMe       bool `json:"delete_for_me"`
	Edit              bool `json:"edit"`
}

// AvailableActions evaluates the policy for every action at once.
func AvailableActions(p policy.Policy, m *models.Message, actorID string, role models.Role) (Actions, error) {
	forMe, err := p.CanDeleteForMe(m.ChatID, m.ID, tombReader{})
	if err != nil {
		return Actions{}, err
	}
	return Actions{
		Unsend:            p.CanUnsend(m, actorID),
		DeleteForEveryone: p.CanDeleteForEveryone(m, actorID, role),
		DeleteForMe:       forMe,
		Edit:              p.CanEdit(m, actorID),
	}, nil
}

// RecallCountdownText renders the remaining recall window as
// human-readable text ("23 hours left"), or "" once the window elapsed
// or the message is already deleted.
func RecallCountdownText(p policy.Policy, m *models.Message) string {
	rem, ok := p.RecallTimeRemaining(m)
	if !ok {
		return ""
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	return humanize.RelTime(now, now.Add(rem), "left", "")
}

type tombReader struct{}

func (tombReader) MessageHidden(chatID, msgID string) (bool, error) {
	return store.MessageHidden(chatID, msgID)
}
