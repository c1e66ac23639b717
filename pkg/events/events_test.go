package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTryEnqueueFull(t *testing.T) {
	q := NewQueue(2)
	for i := 0; i < 2; i++ {
		if err := q.TryEnqueue(&Event{Handler: HandlerSummaryChanged, Chat: "c1"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := q.TryEnqueue(&Event{Handler: HandlerSummaryChanged, Chat: "c1"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}
	q.CloseAndDrain()
}

func TestEnqueueAfterClose(t *testing.T) {
	q := NewQueue(4)
	q.CloseAndDrain()
	if err := q.TryEnqueue(&Event{Handler: HandlerWatchStart, Chat: "c1"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("want ErrQueueClosed, got %v", err)
	}
	if err := q.Enqueue(context.Background(), &Event{Handler: HandlerWatchStart, Chat: "c1"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("want ErrQueueClosed from Enqueue, got %v", err)
	}
}

func TestEnqueueContextCancel(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryEnqueue(&Event{Handler: HandlerWatchStart, Chat: "c1"}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, &Event{Handler: HandlerWatchStart, Chat: "c1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	q.CloseAndDrain()
}

func TestPayloadCopiedIntoQueue(t *testing.T) {
	q := NewQueue(4)
	payload := []byte("original")
	if err := q.TryEnqueue(&Event{Handler: HandlerSummaryChanged, Chat: "c1", Payload: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// mutating the caller's slice must not affect the queued copy
	copy(payload, "XXXXXXXX")

	it := <-q.Out()
	if string(it.Event.Payload) != "original" {
		t.Fatalf("payload not copied: %q", it.Event.Payload)
	}
	it.Done()
	it.Done() // Done is idempotent
	q.CloseAndDrain()
}

func TestDispatcherPerChatOrder(t *testing.T) {
	q := NewQueue(1024)
	d := NewDispatcher(q, 4)

	var mu sync.Mutex
	seen := map[string][]int{}
	done := make(chan struct{})
	total := 0

	d.RegisterHandler(HandlerSummaryChanged, func(ctx context.Context, ev *Event) error {
		mu.Lock()
		seen[ev.Chat] = append(seen[ev.Chat], int(ev.TS))
		total++
		if total == 300 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	d.Start(context.Background())

	chats := []string{"c1", "c2", "c3"}
	for i := 0; i < 100; i++ {
		for _, c := range chats {
			if err := q.TryEnqueue(&Event{Handler: HandlerSummaryChanged, Chat: c, TS: int64(i)}); err != nil {
				t.Fatalf("enqueue %s/%d: %v", c, i, err)
			}
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatcher did not process all events")
	}
	d.Stop()
	d.Stop() // idempotent

	for _, c := range chats {
		got := seen[c]
		if len(got) != 100 {
			t.Fatalf("chat %s processed %d events, want 100", c, len(got))
		}
		for i, ts := range got {
			if ts != i {
				t.Fatalf("chat %s out of order at %d: got %d", c, i, ts)
			}
		}
	}
}

func TestDispatcherUnknownHandler(t *testing.T) {
	q := NewQueue(16)
	d := NewDispatcher(q, 2)
	d.Start(context.Background())

	// no handler registered; the item must still be consumed and released
	if err := q.TryEnqueue(&Event{Handler: HandlerID("bogus"), Chat: "c1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	d.Stop()
	if q.Len() != 0 {
		t.Fatalf("queue should be drained, len=%d", q.Len())
	}
}

func TestShardIndexStable(t *testing.T) {
	for i := 0; i < 100; i++ {
		chat := fmt.Sprintf("chat-%d", i)
		a := shardIndex(chat, 4)
		b := shardIndex(chat, 4)
		if a != b {
			t.Fatalf("shard index unstable for %s", chat)
		}
		if a < 0 || a >= 4 {
			t.Fatalf("shard index out of range: %d", a)
		}
	}
}
