package remote

import (
	"context"
	"sort"
	"sync"

	"chatcore/pkg/models"
)

// Memory is an in-process Store+Feed used by tests and standalone mode.
// It mirrors the remote contract: last-writer-wins mutations, per-chat
// ordered summary delivery, no cross-chat ordering.
type Memory struct {
	mu       sync.Mutex
	threads  map[string]models.ChatThread
	messages map[string][]models.Message // chatID -> messages, send order

	subs     map[string][]*feedSub
	firehose []*feedSub

	// sendMu serializes Emit passes; cancel uses it as a barrier so a
	// subscriber channel is only closed once no send is in flight.
	sendMu sync.Mutex

	// FailNext forces the next mutation to return ErrUnavailable; used by
	// tests to exercise the transient-failure path.
	FailNext bool
}

func NewMemory() *Memory {
	return &Memory{
		threads:  map[string]models.ChatThread{},
		messages: map[string][]models.Message{},
		subs:     map[string][]*feedSub{},
	}
}

// SeedThread installs or replaces a chat thread.
func (m *Memory) SeedThread(th models.ChatThread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[th.ID] = th
}

// SeedMessage appends a message to its chat.
func (m *Memory) SeedMessage(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], msg)
}

func (m *Memory) failNext() bool {
	if m.FailNext {
		m.FailNext = false
		return true
	}
	return false
}

func (m *Memory) GetThread(ctx context.Context, chatID string) (*models.ChatThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := th
	return &cp, nil
}

func (m *Memory) GetMessage(ctx context.Context, chatID, msgID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[chatID] {
		if msg.ID == msgID {
			cp := msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteMessage(ctx context.Context, chatID, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext() {
		return ErrUnavailable
	}
	msgs := m.messages[chatID]
	for i, msg := range msgs {
		if msg.ID == msgID {
			m.messages[chatID] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) PatchMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext() {
		return ErrUnavailable
	}
	msgs := m.messages[msg.ChatID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i].Content = msg.Content
			msgs[i].Deletion = msg.Deletion
			msgs[i].Edit = msg.Edit
			msgs[i].Reactions = msg.Reactions
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) PatchSummary(ctx context.Context, chatID string, last models.LastMessage) error {
	m.mu.Lock()
	if m.failNext() {
		m.mu.Unlock()
		return ErrUnavailable
	}
	th, ok := m.threads[chatID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	th.Last = last
	m.threads[chatID] = th
	sum := models.ChatSummary{
		ChatID:            chatID,
		LastMessageText:   last.Text,
		LastMessageSender: last.SenderID,
		LastMessageTS:     last.TS,
		IsGroup:           th.IsGroup,
	}
	m.mu.Unlock()
	m.Emit(sum)
	return nil
}

func (m *Memory) ListActiveMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.messages[chatID] {
		if msg.Active() {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentTS < out[j].SentTS })
	return out, nil
}

// Subscribe opens a per-chat summary subscription.
func (m *Memory) Subscribe(chatID string) (<-chan models.ChatSummary, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newFeedSub()
	m.subs[chatID] = append(m.subs[chatID], s)
	var once sync.Once
	cancel := func() { once.Do(func() { m.unsubscribe(chatID, s) }) }
	return s.ch, cancel, nil
}

// SubscribeAll opens a firehose subscription across all chats.
func (m *Memory) SubscribeAll() (<-chan models.ChatSummary, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newFeedSub()
	m.firehose = append(m.firehose, s)
	var once sync.Once
	cancel := func() { once.Do(func() { m.unsubscribeAll(s) }) }
	return s.ch, cancel, nil
}

func (m *Memory) unsubscribe(chatID string, s *feedSub) {
	m.mu.Lock()
	subs := m.subs[chatID]
	for i := range subs {
		if subs[i] == s {
			m.subs[chatID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.finish(s)
}

func (m *Memory) unsubscribeAll(s *feedSub) {
	m.mu.Lock()
	for i := range m.firehose {
		if m.firehose[i] == s {
			m.firehose = append(m.firehose[:i], m.firehose[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.finish(s)
}

// finish unblocks any in-flight send to s, waits out the current Emit
// pass, then closes the subscriber channel.
func (m *Memory) finish(s *feedSub) {
	close(s.done)
	m.sendMu.Lock()
	m.sendMu.Unlock()
	close(s.ch)
}

// Emit delivers a summary event to the chat's subscribers and the
// firehose, preserving per-chat order for each subscriber. Sends block
// on slow consumers; a burst is never shed, since counter increments
// ride the subscriber channels.
func (m *Memory) Emit(sum models.ChatSummary) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	m.mu.Lock()
	targets := make([]*feedSub, 0, len(m.subs[sum.ChatID])+len(m.firehose))
	targets = append(targets, m.subs[sum.ChatID]...)
	targets = append(targets, m.firehose...)
	m.mu.Unlock()
	for _, s := range targets {
		s.send(sum)
	}
}
