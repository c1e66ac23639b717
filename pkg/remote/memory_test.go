package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatcore/pkg/models"
)

func seedMemory() *Memory {
	m := NewMemory()
	m.SeedThread(models.ChatThread{ID: "c1", ParticipantIDs: []string{"alice", "bob"}})
	m.SeedMessage(models.Message{
		ID: "m1", ChatID: "c1", SenderID: "alice", SentTS: 100,
		Content: models.Content{Kind: models.ContentText, Text: "hi"},
	})
	return m
}

func TestMemoryNotFound(t *testing.T) {
	m := seedMemory()
	ctx := context.Background()
	if _, err := m.GetThread(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := m.GetMessage(ctx, "c1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := m.DeleteMessage(ctx, "c1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryGetMessageReturnsCopy(t *testing.T) {
	m := seedMemory()
	ctx := context.Background()
	msg, err := m.GetMessage(ctx, "c1", "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	msg.Content.Text = "mutated"
	again, _ := m.GetMessage(ctx, "c1", "m1")
	if again.Content.Text != "hi" {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestMemoryPatchSummaryEmits(t *testing.T) {
	m := seedMemory()
	ctx := context.Background()

	ch, cancel, err := m.Subscribe("c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	fh, cancelAll, err := m.SubscribeAll()
	if err != nil {
		t.Fatalf("subscribe all: %v", err)
	}
	defer cancelAll()

	last := models.LastMessage{Text: "hi", SenderID: "alice", TS: 100}
	if err := m.PatchSummary(ctx, "c1", last); err != nil {
		t.Fatalf("patch summary: %v", err)
	}

	for name, c := range map[string]<-chan models.ChatSummary{"chat": ch, "firehose": fh} {
		select {
		case sum := <-c:
			if sum.ChatID != "c1" || sum.LastMessageText != "hi" {
				t.Fatalf("%s: unexpected summary %+v", name, sum)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscription got no event", name)
		}
	}
}

func TestMemorySubscribeCancelIdempotent(t *testing.T) {
	m := seedMemory()
	_, cancel, err := m.Subscribe("c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel() // second cancel must not panic on the closed channel

	// events after cancel are dropped, not delivered to closed channels
	m.Emit(models.ChatSummary{ChatID: "c1", LastMessageTS: 1})
}

func TestMemoryEmitBurstLosesNothing(t *testing.T) {
	m := seedMemory()
	fh, cancel, err := m.SubscribeAll()
	if err != nil {
		t.Fatalf("subscribe all: %v", err)
	}
	defer cancel()

	// well past the channel buffer: the emitter must block, not shed
	const total = subBuffer + 100
	go func() {
		for i := 1; i <= total; i++ {
			m.Emit(models.ChatSummary{ChatID: "c1", LastMessageSender: "bob", LastMessageTS: int64(i)})
		}
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
}

func TestMemoryCancelUnblocksEmit(t *testing.T) {
	m := seedMemory()
	_, cancel, err := m.SubscribeAll()
	if err != nil {
		t.Fatalf("subscribe all: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 1; i <= subBuffer+10; i++ {
			m.Emit(models.ChatSummary{ChatID: "c1", LastMessageTS: int64(i)})
		}
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit stayed blocked after the subscriber cancelled")
	}
}

func TestMemoryFailNext(t *testing.T) {
	m := seedMemory()
	ctx := context.Background()

	m.FailNext = true
	if err := m.DeleteMessage(ctx, "c1", "m1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	// the failure is one-shot
	if err := m.DeleteMessage(ctx, "c1", "m1"); err != nil {
		t.Fatalf("second attempt should succeed, got %v", err)
	}
}
