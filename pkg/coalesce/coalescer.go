package coalesce

import (
	"encoding/json"
	"sync"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/store"
	"chatcore/pkg/telemetry"
)

// Notification is the notification-worthy payload produced for every
// peer-originated event. This path is never throttled: missed counts
// would be a correctness bug, only the list-refresh path is throttled.
type Notification struct {
	SenderID string
	Text     string
	ChatID   string
	IsGroup  bool
}

// Timer is the subset of *time.Timer the coalescer needs; injectable so
// tests can fire pending flushes deterministically.
type Timer interface {
	Stop() bool
}

// Options configures a Coalescer. All policy is explicit constructor
// input: multiple chat-list views can run coalescers with independent
// settings, there is no shared mutable mode flag.
type Options struct {
	// MinInterval is the minimum spacing between list refreshes per chat.
	MinInterval time.Duration
	// SelfID is the viewing user; events on their own messages never
	// refresh the list (the send path already updated the UI).
	SelfID string
	// Refresh signals "refresh chat list" with the summary that caused
	// it. Cheap, idempotent, safe to call redundantly.
	Refresh func(sum models.ChatSummary)
	// Notify receives the unthrottled notification payload.
	Notify func(n Notification)
	// Now and AfterFunc are injectable clocks for tests.
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
}

type chatState struct {
	mu       sync.Mutex
	lastEmit time.Time
	pending  bool
	// pendingPayload carries the newest suppressed summary; a later
	// suppressed event refreshes it, the flush delivers it.
	pendingPayload models.ChatSummary
	timer          Timer
}

// Coalescer ingests the raw stream of remote chat-summary change events,
// classifies them as self or peer originated, throttles the list-refresh
// path per chat and keeps the unread counters exact.
type Coalescer struct {
	opts Options

	mu     sync.Mutex
	chats  map[string]*chatState
	closed bool
}

// New builds a Coalescer. MinInterval defaults to 500ms.
func New(opts Options) *Coalescer {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Coalescer{opts: opts, chats: map[string]*chatState{}}
}

func (c *Coalescer) state(chatID string) *chatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.chats[chatID]
	if !ok {
		st = &chatState{}
		c.chats[chatID] = st
	}
	return st
}

// Handle processes one summary event. The dispatcher serializes calls
// per chat id; only the pending-flush timer runs concurrently with it,
// and both synchronize on the per-chat state lock.
func (c *Coalescer) Handle(sum models.ChatSummary) {
	// keep the durable summary cache current regardless of origin
	if b, err := json.Marshal(sum); err == nil {
		if serr := store.SaveSummary(sum.ChatID, b); serr != nil {
			logger.Warn("summary_cache_write_failed", "chat", sum.ChatID, "error", serr)
		}
	}

	if sum.LastMessageSender == c.opts.SelfID {
		telemetry.SummaryEvents.WithLabelValues("self").Inc()
		return
	}
	telemetry.SummaryEvents.WithLabelValues("peer").Inc()
	st := c.state(sum.ChatID)

	// exact-count path, independent of throttling
	key := counterKey(sum)
	if _, err := store.IncrCounter(key); err != nil {
		logger.Error("counter_increment_failed", "key", key, "error", err)
	}
	if c.opts.Notify != nil {
		telemetry.Notifications.Inc()
		c.opts.Notify(Notification{
			SenderID: sum.LastMessageSender,
			Text:     sum.LastMessageText,
			ChatID:   sum.ChatID,
			IsGroup:  sum.IsGroup,
		})
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := c.opts.Now()
	if now.Sub(st.lastEmit) >= c.opts.MinInterval {
		st.lastEmit = now
		st.pending = false
		c.emit(sum)
		return
	}

	telemetry.CoalescedEvents.Inc()
	if st.pending {
		// a pending emission is already owed: refresh the payload, not
		// the timer
		st.pendingPayload = sum
		return
	}
	st.pending = true
	st.pendingPayload = sum
	due := st.lastEmit.Add(c.opts.MinInterval).Sub(now)
	chatID := sum.ChatID
	st.timer = c.opts.AfterFunc(due, func() { c.flush(chatID) })
}

// flush delivers an owed pending emission. It fires from the scheduled
// timer so a dangling pending refresh lands even if no further events
// arrive.
func (c *Coalescer) flush(chatID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st := c.chats[chatID]
	c.mu.Unlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	if !st.pending {
		st.mu.Unlock()
		return
	}
	st.pending = false
	st.lastEmit = c.opts.Now()
	st.timer = nil
	sum := st.pendingPayload
	st.mu.Unlock()
	c.emit(sum)
}

func (c *Coalescer) emit(sum models.ChatSummary) {
	telemetry.ListRefreshes.Inc()
	if c.opts.Refresh != nil {
		c.opts.Refresh(sum)
	}
}

// Pending reports whether a flush is owed for the chat (for tests and
// the admin surface).
func (c *Coalescer) Pending(chatID string) bool {
	c.mu.Lock()
	st := c.chats[chatID]
	c.mu.Unlock()
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pending
}

// Close stops all pending timers. Safe to call at any time; an emission
// already dispatched is still delivered and consumers tolerate one stale
// refresh after teardown.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, st := range c.chats {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.pending = false
		st.mu.Unlock()
	}
}

// counterKey picks the per-recipient counter key: the chat for groups,
// the sender for 1:1 chats.
func counterKey(sum models.ChatSummary) string {
	if sum.IsGroup {
		return sum.ChatID
	}
	return sum.LastMessageSender
}
