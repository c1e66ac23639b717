package policy

import (
	"time"

	"chatcore/pkg/models"
)

// TombstoneReader is the slice of the local store the policy needs to
// answer delete-for-me questions.
type TombstoneReader interface {
	MessageHidden(chatID, msgID string) (bool, error)
}

// Policy holds the deletion/edit windows and a clock. It is a value
// passed in by configuration so views with different windows can
// coexist; there is no package-global state.
type Policy struct {
	RecallWindow time.Duration
	EditWindow   time.Duration
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// Default returns the stock policy: 48h recall, 15m edit.
func Default() Policy {
	return Policy{RecallWindow: 48 * time.Hour, EditWindow: 15 * time.Minute}
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// CanUnsend reports whether actor may hard-delete the message. Only the
// author of a still-active message may unsend; the current policy has no
// time window.
func (p Policy) CanUnsend(msg *models.Message, actorID string) bool {
	return msg.Active() && msg.SenderID == actorID
}

// CanDeleteForEveryone evaluates the three-tier soft-delete rule in
// order, short-circuiting at the first matching tier:
//  1. the author, within the recall window (boundary inclusive)
//  2. a group admin, in a group chat only
//  3. deny
//
// A non-author in a 1:1 chat is never allowed, regardless of window.
func (p Policy) CanDeleteForEveryone(msg *models.Message, actorID string, role models.Role) bool {
	if !msg.Active() {
		return false
	}
	if actorID == msg.SenderID {
		return p.withinRecall(msg)
	}
	return role.IsGroupChat && role.IsGroupAdmin
}

// CanDeleteForMe reports whether a local delete-for-me would do anything.
// Repeated delete-for-me on an already-hidden message is a no-op, not an
// error, so the answer is false once a tombstone exists.
func (p Policy) CanDeleteForMe(chatID, msgID string, tombs TombstoneReader) (bool, error) {
	hidden, err := tombs.MessageHidden(chatID, msgID)
	if err != nil {
		return false, err
	}
	return !hidden, nil
}

// CanEdit reports whether actor may edit the message: it must be active,
// authored by actor, and still inside the edit window.
func (p Policy) CanEdit(msg *models.Message, actorID string) bool {
	if !msg.Active() || msg.SenderID != actorID {
		return false
	}
	elapsed := p.now().Sub(time.Unix(0, msg.SentTS))
	return elapsed <= p.EditWindow
}

// RecallTimeRemaining returns how long the author can still delete for
// everyone, and ok=false once the window elapsed or the message is
// already deleted.
func (p Policy) RecallTimeRemaining(msg *models.Message) (time.Duration, bool) {
	if !msg.Active() {
		return 0, false
	}
	rem := p.RecallWindow - p.now().Sub(time.Unix(0, msg.SentTS))
	if rem <= 0 {
		return 0, false
	}
	return rem, true
}

func (p Policy) withinRecall(msg *models.Message) bool {
	return p.now().Sub(time.Unix(0, msg.SentTS)) <= p.RecallWindow
}
