package sweep

import (
	"context"
	"testing"
	"time"

	"chatcore/pkg/config"
	"chatcore/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
}

func sweepCfg(maxAge time.Duration) config.SweepConfig {
	return config.SweepConfig{Enabled: true, MaxAge: config.Duration(maxAge)}
}

// seedClearedChat simulates a chat that was hidden, accumulated message
// tombstones, and was later restored at clearedAt.
func seedClearedChat(t *testing.T, chatID string, clearedAt time.Time) {
	t.Helper()
	if err := store.HideMessages(chatID, []string{"m1", "m2"}, clearedAt.Add(-time.Hour).UnixNano()); err != nil {
		t.Fatalf("hide messages: %v", err)
	}
	if err := store.SaveSummary(chatID, []byte(`{"chat":"`+chatID+`"}`)); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	if err := store.HideChat(chatID, clearedAt.Add(-time.Hour).UnixNano()); err != nil {
		t.Fatalf("hide chat: %v", err)
	}
	if err := store.ClearChatTombstone(chatID, clearedAt.UnixNano()); err != nil {
		t.Fatalf("clear tombstone: %v", err)
	}
}

func TestRunOncePrunesOldClearedChats(t *testing.T) {
	openTestStore(t)
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)

	seedClearedChat(t, "old", now.Add(-40*24*time.Hour))
	seedClearedChat(t, "fresh", now.Add(-time.Hour))

	pruned, err := RunOnce(sweepCfg(30*24*time.Hour), now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	// 2 message tombstones + cleared marker + summary
	if pruned != 4 {
		t.Fatalf("pruned = %d, want 4", pruned)
	}

	ids, _ := store.HiddenMessages("old")
	if len(ids) != 0 {
		t.Fatalf("old chat tombstones survived: %v", ids)
	}
	if _, err := store.GetKey(store.PrefixCleared + "old"); !store.IsNotFound(err) {
		t.Fatalf("old cleared marker survived: %v", err)
	}
	if _, err := store.GetSummary("old"); !store.IsNotFound(err) {
		t.Fatalf("old summary survived: %v", err)
	}

	// fresh chat untouched
	if ids, _ := store.HiddenMessages("fresh"); len(ids) != 2 {
		t.Fatalf("fresh chat should be untouched, got %v", ids)
	}
}

func TestRunOnceSkipsRehiddenChat(t *testing.T) {
	openTestStore(t)
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)

	seedClearedChat(t, "c1", now.Add(-40*24*time.Hour))
	// the chat was hidden again after the clear
	if err := store.HideChat("c1", now.Add(-time.Hour).UnixNano()); err != nil {
		t.Fatalf("re-hide: %v", err)
	}

	pruned, err := RunOnce(sweepCfg(30*24*time.Hour), now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("re-hidden chat must not be pruned, pruned=%d", pruned)
	}
	if ids, _ := store.HiddenMessages("c1"); len(ids) != 2 {
		t.Fatalf("message tombstones must survive, got %v", ids)
	}
}

func TestRunOnceDryRun(t *testing.T) {
	openTestStore(t)
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)

	seedClearedChat(t, "c1", now.Add(-40*24*time.Hour))

	cfg := sweepCfg(30 * 24 * time.Hour)
	cfg.DryRun = true
	pruned, err := RunOnce(cfg, now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if pruned != 4 {
		t.Fatalf("dry run should count 4 candidates, got %d", pruned)
	}
	if ids, _ := store.HiddenMessages("c1"); len(ids) != 2 {
		t.Fatalf("dry run must not delete, got %v", ids)
	}
}

func TestStartValidatesCron(t *testing.T) {
	cfg := config.SweepConfig{Enabled: true, Cron: "not a cron"}
	if _, err := Start(context.Background(), cfg); err == nil {
		t.Fatalf("invalid cron must be rejected")
	}

	cancel, err := Start(context.Background(), config.SweepConfig{Enabled: false})
	if err != nil {
		t.Fatalf("disabled sweep: %v", err)
	}
	cancel()
}
