package models

import "testing"

func TestVisibleTextPlaceholder(t *testing.T) {
	m := Message{Content: Content{Kind: ContentText, Text: "secret plans"}}
	if got := m.VisibleText(); got != "secret plans" {
		t.Fatalf("active text: got %q", got)
	}
	m.Deletion = DeletionState{Kind: DeletionForEveryone, By: "alice"}
	if got := m.VisibleText(); got != DeletedPlaceholder {
		t.Fatalf("deleted message must show placeholder, got %q", got)
	}
	m.Deletion = DeletionState{Kind: DeletionUnsent}
	if got := m.VisibleText(); got != DeletedPlaceholder {
		t.Fatalf("unsent message must show placeholder, got %q", got)
	}
}

func TestVisibleTextMediaCaption(t *testing.T) {
	m := Message{Content: Content{Kind: ContentImage, Caption: "sunset", ImageURLs: []string{"u1"}}}
	if got := m.VisibleText(); got != "sunset" {
		t.Fatalf("image caption: got %q", got)
	}
	m.Content.Kind = ContentAlbum
	if got := m.VisibleText(); got != "sunset" {
		t.Fatalf("album caption: got %q", got)
	}
}

func TestActive(t *testing.T) {
	m := Message{}
	if !m.Active() {
		t.Fatalf("zero deletion state must be active")
	}
	m.Deletion.Kind = DeletionActive
	if !m.Active() {
		t.Fatalf("explicit active must be active")
	}
	m.Deletion.Kind = DeletionUnsent
	if m.Active() {
		t.Fatalf("unsent must not be active")
	}
}

func TestReactionSetSemantics(t *testing.T) {
	m := Message{}
	m.AddReaction("👍", "alice")
	m.AddReaction("👍", "alice") // duplicate, must be no-op
	m.AddReaction("👍", "bob")
	m.AddReaction("❤️", "alice")

	if got := m.ReactionCount(); got != 3 {
		t.Fatalf("want 3 reactors total, got %d", got)
	}
	if !m.HasReaction("👍", "alice") || !m.HasReaction("❤️", "alice") {
		t.Fatalf("expected recorded reactions missing")
	}

	m.RemoveReaction("👍", "alice")
	if m.HasReaction("👍", "alice") {
		t.Fatalf("removed reaction still present")
	}
	if got := m.ReactionCount(); got != 2 {
		t.Fatalf("want 2 after removal, got %d", got)
	}

	m.RemoveReaction("❤️", "alice")
	if _, ok := m.Reactions["❤️"]; ok {
		t.Fatalf("empty reaction set should be removed from the map")
	}
	// removing an absent reaction is a no-op
	m.RemoveReaction("😀", "carol")
}

func TestThreadRoles(t *testing.T) {
	th := ChatThread{ID: "g1", IsGroup: true, ParticipantIDs: []string{"a", "b", "c"}, AdminIDs: []string{"a"}}
	if !th.IsAdmin("a") {
		t.Fatalf("a should be admin")
	}
	if th.IsAdmin("b") {
		t.Fatalf("b should not be admin")
	}
	if !th.HasParticipant("c") || th.HasParticipant("z") {
		t.Fatalf("participant membership wrong")
	}

	dm := ChatThread{ID: "d1", ParticipantIDs: []string{"a", "b"}, AdminIDs: []string{"a"}}
	if dm.IsAdmin("a") {
		t.Fatalf("admin is meaningless outside groups")
	}
}
