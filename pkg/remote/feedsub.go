package remote

import (
	"chatcore/pkg/models"
)

const subBuffer = 128

// feedSub is one subscriber channel plus its cancellation marker. Sends
// block until the subscriber accepts the event or cancels, so a bursty
// feed backpressures the producer instead of losing events. Counter
// increments ride this path, so a lost event is a wrong unread count.
type feedSub struct {
	ch   chan models.ChatSummary
	done chan struct{}
}

func newFeedSub() *feedSub {
	return &feedSub{
		ch:   make(chan models.ChatSummary, subBuffer),
		done: make(chan struct{}),
	}
}

// send delivers one summary, blocking until the subscriber drains or its
// done channel closes.
func (s *feedSub) send(sum models.ChatSummary) {
	select {
	case s.ch <- sum:
	case <-s.done:
	}
}
