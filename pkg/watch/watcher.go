package watch

import (
	"sync"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/remote"
	"chatcore/pkg/store"
	"chatcore/pkg/telemetry"
)

// Watcher restores locally-hidden chats the moment new remote activity
// proves the hide is stale, without server cooperation. One lightweight
// summary subscription exists per tombstoned chat; it is torn down the
// instant restoration fires or the tombstone is otherwise cleared.
//
// The watcher holds no independent source of truth for which chats are
// hidden: Resume re-derives the active set from the local store.
type Watcher struct {
	feed   remote.Feed
	selfID string
	// OnRestore is signalled after the tombstone is cleared; the UI
	// layer refreshes its list from it.
	OnRestore func(chatID string)
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time

	mu      sync.Mutex
	watches map[string]*entry
	closed  bool
	wg      sync.WaitGroup
}

type entry struct {
	chatID string
	hideTS int64
	cancel func()
}

func New(feed remote.Feed, selfID string) *Watcher {
	return &Watcher{feed: feed, selfID: selfID, watches: map[string]*entry{}}
}

func (w *Watcher) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Resume re-derives the watch set from every chat tombstone in the local
// store. Called on process start or resume.
func (w *Watcher) Resume() error {
	hidden, err := store.ListHiddenChats()
	if err != nil {
		return err
	}
	for chatID := range hidden {
		if err := w.Start(chatID); err != nil {
			logger.Error("watch_resume_failed", "chat", chatID, "error", err)
		}
	}
	logger.Info("watches_resumed", "count", len(hidden))
	return nil
}

// Start opens a watch for a tombstoned chat. Idempotent: a second Start
// on the same chat id, or a Start with no tombstone present, is a no-op.
func (w *Watcher) Start(chatID string) error {
	hideTS, ok, err := store.ChatHideTS(chatID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	if _, exists := w.watches[chatID]; exists {
		w.mu.Unlock()
		return nil
	}
	ch, cancel, err := w.feed.Subscribe(chatID)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	e := &entry{chatID: chatID, hideTS: hideTS, cancel: cancel}
	w.watches[chatID] = e
	telemetry.ActiveWatches.Inc()
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(e, ch)
	logger.Info("watch_started", "chat", chatID, "hide_ts", hideTS)
	return nil
}

func (w *Watcher) run(e *entry, ch <-chan models.ChatSummary) {
	defer w.wg.Done()
	for sum := range ch {
		if w.shouldRestore(e, sum) && w.restore(e) {
			return
		}
	}
}

// shouldRestore applies the restoration rule: the summary must carry
// activity newer than the hide timestamp AND from someone other than the
// current user. The user's own message on a chat they just hid must not
// un-hide it. Timestamp comparison is deliberately kept over last-seen
// message-id capture; a self message reordered past the hide can
// therefore keep the chat hidden until the next peer message, which is
// the accepted trade-off.
func (w *Watcher) shouldRestore(e *entry, sum models.ChatSummary) bool {
	return sum.LastMessageTS > e.hideTS && sum.LastMessageSender != w.selfID
}

// restore clears the chat tombstone and tears the watch down. When the
// local store write fails the watch stays registered and subscribed, so
// the still-tombstoned chat keeps exactly one active watch; the next
// summary retries the clear. Returns true once the watch is finished.
func (w *Watcher) restore(e *entry) bool {
	w.mu.Lock()
	cur, ok := w.watches[e.chatID]
	if !ok || cur != e {
		// already stopped by Stop/StopAll; nothing to restore
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()

	if err := store.ClearChatTombstone(e.chatID, w.now().UnixNano()); err != nil {
		logger.Error("restore_clear_tombstone_failed", "chat", e.chatID, "error", err)
		return false
	}

	w.mu.Lock()
	cur, ok = w.watches[e.chatID]
	if !ok || cur != e {
		w.mu.Unlock()
		return true
	}
	delete(w.watches, e.chatID)
	telemetry.ActiveWatches.Dec()
	w.mu.Unlock()

	e.cancel()
	telemetry.Restorations.Inc()
	logger.Info("chat_restored", "chat", e.chatID)
	if w.OnRestore != nil {
		w.OnRestore(e.chatID)
	}
	return true
}

// Stop cancels the watch for a chat. Always safe to call, watching or
// not.
func (w *Watcher) Stop(chatID string) {
	w.mu.Lock()
	e, ok := w.watches[chatID]
	if ok {
		delete(w.watches, chatID)
		telemetry.ActiveWatches.Dec()
	}
	w.mu.Unlock()
	if ok {
		e.cancel()
		logger.Info("watch_stopped", "chat", chatID)
	}
}

// StopAll cancels every watch and waits for their goroutines to exit.
func (w *Watcher) StopAll() {
	w.mu.Lock()
	w.closed = true
	entries := make([]*entry, 0, len(w.watches))
	for _, e := range w.watches {
		entries = append(entries, e)
	}
	w.watches = map[string]*entry{}
	w.mu.Unlock()
	for _, e := range entries {
		e.cancel()
		telemetry.ActiveWatches.Dec()
	}
	w.wg.Wait()
}

// Watching reports whether a watch is active for the chat.
func (w *Watcher) Watching(chatID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[chatID]
	return ok
}

// Count returns the number of active watches.
func (w *Watcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}
