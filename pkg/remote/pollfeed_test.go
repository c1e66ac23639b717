package remote

import (
	"testing"
	"time"

	"chatcore/pkg/models"
)

func feedSum(ts int64) models.ChatSummary {
	return models.ChatSummary{ChatID: "c1", LastMessageSender: "bob", LastMessageTS: ts}
}

func TestPollFeedDeliverBlocksUntilDrained(t *testing.T) {
	f := NewPollFeed(nil, time.Hour)
	fh, cancel, err := f.SubscribeAll()
	if err != nil {
		t.Fatalf("subscribe all: %v", err)
	}
	defer cancel()

	const total = subBuffer + 50
	done := make(chan struct{})
	go func() {
		for i := 1; i <= total; i++ {
			f.deliver(feedSum(int64(i)))
		}
		close(done)
	}()

	got := 0
	for got < total {
		select {
		case <-fh:
			got++
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events before timing out", got, total)
		}
	}
	<-done

	f.mu.Lock()
	last := f.lastTS
	f.mu.Unlock()
	if last != total {
		t.Fatalf("cursor = %d, want %d", last, total)
	}
}

func TestPollFeedCursorWaitsForDelivery(t *testing.T) {
	f := NewPollFeed(nil, time.Hour)
	fh, cancel, err := f.SubscribeAll()
	if err != nil {
		t.Fatalf("subscribe all: %v", err)
	}
	defer cancel()

	// fill the subscriber buffer so the next delivery blocks
	for i := 1; i <= subBuffer; i++ {
		f.deliver(feedSum(int64(i)))
	}
	blocked := make(chan struct{})
	go func() {
		f.deliver(feedSum(subBuffer + 1))
		close(blocked)
	}()

	// an undelivered event must stay ahead of the cursor so it is
	// re-fetched if the delivery never completes
	time.Sleep(20 * time.Millisecond)
	f.mu.Lock()
	last := f.lastTS
	f.mu.Unlock()
	if last > subBuffer {
		t.Fatalf("cursor advanced to %d before delivery", last)
	}

	<-fh
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery did not complete after the subscriber drained")
	}
	f.mu.Lock()
	last = f.lastTS
	f.mu.Unlock()
	if last != subBuffer+1 {
		t.Fatalf("cursor = %d, want %d", last, subBuffer+1)
	}
}

func TestPollFeedCancelUnblocksDeliver(t *testing.T) {
	f := NewPollFeed(nil, time.Hour)
	_, cancel, err := f.Subscribe("c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 1; i <= subBuffer; i++ {
		f.deliver(feedSum(int64(i)))
	}
	done := make(chan struct{})
	go func() {
		f.deliver(feedSum(subBuffer + 1))
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("deliver stayed blocked after the subscriber cancelled")
	}
}
