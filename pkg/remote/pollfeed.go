package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
)

// PollFeed adapts the HTTP client into a Feed by polling the remote
// feed endpoint and fanning events out to subscribers. Per-chat delivery
// order follows the order the remote returns, which is its per-document
// mutation order.
type PollFeed struct {
	client   *Client
	interval time.Duration

	mu       sync.Mutex
	subs     map[string][]*feedSub
	firehose []*feedSub
	lastTS   int64

	// sendMu serializes delivery passes; cancel uses it as a barrier so a
	// subscriber channel is only closed once no send is in flight.
	sendMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPollFeed builds a feed polling at the given interval (default 1s).
func NewPollFeed(client *Client, interval time.Duration) *PollFeed {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollFeed{
		client:   client,
		interval: interval,
		subs:     map[string][]*feedSub{},
	}
}

// Start launches the polling loop.
func (f *PollFeed) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel
	f.wg.Add(1)
	go f.run(ctx)
}

func (f *PollFeed) run(ctx context.Context) {
	defer f.wg.Done()
	tick := time.NewTicker(f.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			f.poll(ctx)
		}
	}
}

func (f *PollFeed) poll(ctx context.Context) {
	f.mu.Lock()
	since := f.lastTS
	f.mu.Unlock()
	sums, err := f.client.ListFeed(ctx, since)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("feed_poll_failed", "error", err)
		}
		return
	}
	for _, sum := range sums {
		f.deliver(sum)
	}
}

// deliver fans one summary out to the chat's subscribers and the
// firehose, blocking on slow consumers. The poll pace is our own, so
// backpressure is safe and no event is dropped. The since cursor only
// advances after every subscriber has the event; an interrupted delivery
// is re-fetched on the next poll.
func (f *PollFeed) deliver(sum models.ChatSummary) {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()
	f.mu.Lock()
	targets := make([]*feedSub, 0, len(f.subs[sum.ChatID])+len(f.firehose))
	targets = append(targets, f.subs[sum.ChatID]...)
	targets = append(targets, f.firehose...)
	f.mu.Unlock()
	for _, s := range targets {
		s.send(sum)
	}
	f.mu.Lock()
	if sum.LastMessageTS > f.lastTS {
		f.lastTS = sum.LastMessageTS
	}
	f.mu.Unlock()
}

// Subscribe opens a per-chat summary subscription.
func (f *PollFeed) Subscribe(chatID string) (<-chan models.ChatSummary, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFeedSub()
	f.subs[chatID] = append(f.subs[chatID], s)
	var once sync.Once
	cancel := func() { once.Do(func() { f.drop(chatID, s) }) }
	return s.ch, cancel, nil
}

// SubscribeAll opens the firehose subscription.
func (f *PollFeed) SubscribeAll() (<-chan models.ChatSummary, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFeedSub()
	f.firehose = append(f.firehose, s)
	var once sync.Once
	cancel := func() { once.Do(func() { f.dropAll(s) }) }
	return s.ch, cancel, nil
}

func (f *PollFeed) drop(chatID string, s *feedSub) {
	f.mu.Lock()
	subs := f.subs[chatID]
	for i := range subs {
		if subs[i] == s {
			f.subs[chatID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	f.finish(s)
}

func (f *PollFeed) dropAll(s *feedSub) {
	f.mu.Lock()
	for i := range f.firehose {
		if f.firehose[i] == s {
			f.firehose = append(f.firehose[:i], f.firehose[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	f.finish(s)
}

// finish unblocks any in-flight send to s, waits out the current
// delivery pass, then closes the subscriber channel.
func (f *PollFeed) finish(s *feedSub) {
	close(s.done)
	f.sendMu.Lock()
	f.sendMu.Unlock()
	close(s.ch)
}

// Stop halts polling and waits for the loop to exit. Subscriptions stay
// open until their cancel funcs run.
func (f *PollFeed) Stop() {
	f.once.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		f.wg.Wait()
	})
}
