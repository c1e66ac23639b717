package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/policy"
	"chatcore/pkg/remote"
	"chatcore/pkg/store"
)

// Lifecycle mutates a message's deletion/edit state, gating every
// remote-bound mutation through the deletion policy first. The policy
// check is advisory: the remote layer is last-writer-wins at the time the
// write lands, so remote errors are surfaced for the caller to re-check
// against fresh data before any retry. Nothing here retries internally.
type Lifecycle struct {
	Policy policy.Policy
	Remote remote.Store
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func New(p policy.Policy, r remote.Store) *Lifecycle {
	return &Lifecycle{Policy: p, Remote: r}
}

func (l *Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Unsend hard-deletes the message row remotely and recomputes the chat's
// last-message summary from the most recent remaining active message. A
// message already gone remotely counts as success.
func (l *Lifecycle) Unsend(ctx context.Context, msg *models.Message, actorID string) error {
	if !l.Policy.CanUnsend(msg, actorID) {
		return ErrPermissionDenied
	}
	err := l.Remote.DeleteMessage(ctx, msg.ChatID, msg.ID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}
	msg.Deletion = models.DeletionState{Kind: models.DeletionUnsent}
	logger.Info("message_unsent", "chat", msg.ChatID, "msg", msg.ID, "actor", actorID)
	return l.RecomputeSummary(ctx, msg.ChatID)
}

// DeleteForEveryone transitions the message to DeletedForEveryone via a
// remote patch of the state flag and metadata only; content is not erased
// at the storage layer, readers must honor the flag. The chat summary is
// recomputed to skip all non-active rows.
func (l *Lifecycle) DeleteForEveryone(ctx context.Context, msg *models.Message, actorID string, role models.Role) error {
	if !l.Policy.CanDeleteForEveryone(msg, actorID, role) {
		return ErrPermissionDenied
	}
	updated := *msg
	updated.Deletion = models.DeletionState{
		Kind: models.DeletionForEveryone,
		By:   actorID,
		TS:   l.now().UnixNano(),
	}
	err := l.Remote.PatchMessage(ctx, &updated)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// already gone remotely: treat as deleted, nothing to patch
			msg.Deletion = updated.Deletion
			return l.RecomputeSummary(ctx, msg.ChatID)
		}
		return err
	}
	*msg = updated
	logger.Info("message_deleted_for_everyone", "chat", msg.ChatID, "msg", msg.ID, "actor", actorID)
	return l.RecomputeSummary(ctx, msg.ChatID)
}

// DeleteForMe writes a device-local message tombstone. No remote mutation
// and no network retry is ever needed. Hiding an already-hidden message
// is a no-op.
func (l *Lifecycle) DeleteForMe(chatID, msgID string) error {
	ok, err := l.Policy.CanDeleteForMe(chatID, msgID, tombReader{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocalStore, err)
	}
	if !ok {
		return nil
	}
	if err := store.HideMessage(chatID, msgID, l.now().UnixNano()); err != nil {
		return fmt.Errorf("%w: %v", ErrLocalStore, err)
	}
	return nil
}

// DeleteForMeBatch tombstones a set of message ids atomically from the
// caller's point of view: either every id ends up hidden or the failure
// is reported and none are.
func (l *Lifecycle) DeleteForMeBatch(chatID string, msgIDs []string) error {
	pending := make([]string, 0, len(msgIDs))
	for _, id := range msgIDs {
		ok, err := l.Policy.CanDeleteForMe(chatID, id, tombReader{})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLocalStore, err)
		}
		if ok {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if err := store.HideMessages(chatID, pending, l.now().UnixNano()); err != nil {
		return fmt.Errorf("%w: %v", ErrLocalStore, err)
	}
	return nil
}

// Edit replaces the displayed content. The first edit copies the current
// content into Original; later edits keep the first capture.
func (l *Lifecycle) Edit(ctx context.Context, msg *models.Message, actorID string, newContent models.Content) error {
	if !l.Policy.CanEdit(msg, actorID) {
		return ErrPermissionDenied
	}
	updated := *msg
	if !updated.Edit.Edited {
		orig := updated.Content
		updated.Edit.Original = &orig
	}
	updated.Edit.Edited = true
	updated.Edit.EditedTS = l.now().UnixNano()
	updated.Content = newContent
	if err := l.Remote.PatchMessage(ctx, &updated); err != nil {
		return err
	}
	*msg = updated
	logger.Info("message_edited", "chat", msg.ChatID, "msg", msg.ID)
	return nil
}

// RecomputeSummary derives the chat's last-message summary from the most
// recent remaining active message, or clears it when none remains. It is
// a derived value only; there is no way to set it independently.
func (l *Lifecycle) RecomputeSummary(ctx context.Context, chatID string) error {
	msgs, err := l.Remote.ListActiveMessages(ctx, chatID)
	if err != nil {
		return err
	}
	var last models.LastMessage
	if n := len(msgs); n > 0 {
		m := msgs[n-1]
		last = models.LastMessage{Text: m.VisibleText(), SenderID: m.SenderID, TS: m.SentTS}
	}
	if err := l.Remote.PatchSummary(ctx, chatID, last); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}
	return nil
}

// tombReader adapts the package-global store to the policy's reader
// interface.
type tombReader struct{}

func (tombReader) MessageHidden(chatID, msgID string) (bool, error) {
	return store.MessageHidden(chatID, msgID)
}
