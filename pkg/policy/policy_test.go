package policy

import (
	"errors"
	"testing"
	"time"

	"chatcore/pkg/models"
)

func msgAt(sent time.Time, sender string) *models.Message {
	return &models.Message{
		ID:       "m1",
		ChatID:   "c1",
		SenderID: sender,
		SentTS:   sent.UnixNano(),
		Content:  models.Content{Kind: models.ContentText, Text: "hello"},
	}
}

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCanUnsendAuthorOnly(t *testing.T) {
	p := Default()
	m := msgAt(time.Now(), "alice")
	if !p.CanUnsend(m, "alice") {
		t.Fatalf("author should be able to unsend")
	}
	if p.CanUnsend(m, "bob") {
		t.Fatalf("non-author must not unsend")
	}
	m.Deletion = models.DeletionState{Kind: models.DeletionUnsent}
	if p.CanUnsend(m, "alice") {
		t.Fatalf("already-deleted message must not be unsendable")
	}
}

func TestDeleteForEveryoneRecallBoundary(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := msgAt(sent, "alice")
	solo := models.Role{}

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"just_sent", sent.Add(time.Second), true},
		{"inside_window", sent.Add(47*time.Hour + 59*time.Minute), true},
		{"exact_boundary", sent.Add(48 * time.Hour), true},
		{"past_window", sent.Add(48*time.Hour + time.Minute), false},
	}
	for _, tc := range cases {
		p := Default()
		p.Now = fixed(tc.now)
		if got := p.CanDeleteForEveryone(m, "alice", solo); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDeleteForEveryoneAdminOverride(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := msgAt(sent, "alice")
	p := Default()
	// push well past the recall window; the admin tier has no window
	p.Now = fixed(sent.Add(100 * time.Hour))

	admin := models.Role{IsGroupChat: true, IsGroupAdmin: true}
	member := models.Role{IsGroupChat: true}
	oneToOne := models.Role{}

	if !p.CanDeleteForEveryone(m, "carol", admin) {
		t.Fatalf("group admin should delete any message regardless of window")
	}
	if p.CanDeleteForEveryone(m, "carol", member) {
		t.Fatalf("plain group member must not delete others' messages")
	}
	if p.CanDeleteForEveryone(m, "bob", oneToOne) {
		t.Fatalf("non-author in a 1:1 chat must never delete for everyone")
	}
	// the author tier wins even when the actor is also an admin: expired
	// window still allowed through the admin tier only in groups
	if p.CanDeleteForEveryone(m, "alice", oneToOne) {
		t.Fatalf("author past the window in 1:1 must be denied")
	}
}

func TestDeleteForEveryoneInactiveMessage(t *testing.T) {
	p := Default()
	m := msgAt(time.Now(), "alice")
	m.Deletion = models.DeletionState{Kind: models.DeletionForEveryone, By: "alice"}
	if p.CanDeleteForEveryone(m, "alice", models.Role{IsGroupChat: true, IsGroupAdmin: true}) {
		t.Fatalf("deleting an already-deleted message must be denied")
	}
}

func TestCanEditWindow(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := msgAt(sent, "alice")

	p := Default()
	p.Now = fixed(sent.Add(10 * time.Minute))
	if !p.CanEdit(m, "alice") {
		t.Fatalf("author inside edit window should edit")
	}
	if p.CanEdit(m, "bob") {
		t.Fatalf("non-author must not edit")
	}
	p.Now = fixed(sent.Add(16 * time.Minute))
	if p.CanEdit(m, "alice") {
		t.Fatalf("edit past window must be denied")
	}
}

func TestRecallTimeRemaining(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := msgAt(sent, "alice")

	p := Default()
	p.Now = fixed(sent.Add(47 * time.Hour))
	rem, ok := p.RecallTimeRemaining(m)
	if !ok || rem != time.Hour {
		t.Fatalf("want 1h remaining, got %v ok=%v", rem, ok)
	}
	p.Now = fixed(sent.Add(49 * time.Hour))
	if _, ok := p.RecallTimeRemaining(m); ok {
		t.Fatalf("expired window must report ok=false")
	}
	m.Deletion = models.DeletionState{Kind: models.DeletionUnsent}
	p.Now = fixed(sent.Add(time.Minute))
	if _, ok := p.RecallTimeRemaining(m); ok {
		t.Fatalf("deleted message must report ok=false")
	}
}

type fakeTombs struct {
	hidden map[string]bool
	err    error
}

func (f fakeTombs) MessageHidden(chatID, msgID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.hidden[chatID+"/"+msgID], nil
}

func TestCanDeleteForMe(t *testing.T) {
	p := Default()
	tombs := fakeTombs{hidden: map[string]bool{"c1/m1": true}}

	ok, err := p.CanDeleteForMe("c1", "m1", tombs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("already-hidden message should report false")
	}
	ok, err = p.CanDeleteForMe("c1", "m2", tombs)
	if err != nil || !ok {
		t.Fatalf("fresh message should report true, got ok=%v err=%v", ok, err)
	}

	boom := errors.New("boom")
	if _, err := p.CanDeleteForMe("c1", "m1", fakeTombs{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("store error should propagate, got %v", err)
	}
}
