package remote

import (
	"context"
	"errors"

	"chatcore/pkg/models"
)

// ErrNotFound means the target entity is absent remotely. Idempotent
// deletes treat this as success.
var ErrNotFound = errors.New("remote: not found")

// ErrUnavailable is a transient network/store failure. Callers may retry
// after re-checking policy against fresh data; nothing retries
// automatically, to avoid duplicate side effects.
var ErrUnavailable = errors.New("remote: unavailable")

// Store is the mutation surface of the remote document store. The remote
// store has no transaction model the client can lean on; every call is an
// independent last-writer-wins write.
type Store interface {
	GetThread(ctx context.Context, chatID string) (*models.ChatThread, error)
	GetMessage(ctx context.Context, chatID, msgID string) (*models.Message, error)
	// DeleteMessage fully removes the message row (hard delete/unsend).
	DeleteMessage(ctx context.Context, chatID, msgID string) error
	// PatchMessage updates only the deletion/edit/reaction fields of the
	// row; content bytes at the storage layer are left untouched.
	PatchMessage(ctx context.Context, msg *models.Message) error
	// PatchSummary overwrites a chat's denormalized last-message summary.
	PatchSummary(ctx context.Context, chatID string, last models.LastMessage) error
	// ListActiveMessages returns a chat's messages with deletion state
	// Active, newest last.
	ListActiveMessages(ctx context.Context, chatID string) ([]models.Message, error)
}

// Feed delivers per-chat summary change events. Events for one chat
// arrive in the order the remote layer produced them; there is no
// cross-chat ordering guarantee.
type Feed interface {
	// Subscribe opens one subscription to a single chat's summary. The
	// returned cancel func is always safe to call, including twice.
	Subscribe(chatID string) (<-chan models.ChatSummary, func(), error)
	// SubscribeAll is the firehose over every chat the user participates
	// in; it feeds the update coalescer.
	SubscribeAll() (<-chan models.ChatSummary, func(), error)
}
