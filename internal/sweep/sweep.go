package sweep

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"chatcore/pkg/config"
	"chatcore/pkg/logger"
	"chatcore/pkg/store"
)

// Start starts the local-store sweep scheduler if enabled. The sweeper
// prunes bookkeeping for chats whose tombstone was cleared long ago:
// their message tombstones, the cleared marker and the cached summary.
// Live chat tombstones are never touched. Returns a cancel func.
func Start(ctx context.Context, cfg config.SweepConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("sweep_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweep_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cfg.Cron)
	}

	logger.Info("sweep_enabled", "cron", cronExpr, "max_age", cfg.MaxAge.Duration().String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

func runScheduler(ctx context.Context, cfg config.SweepConfig, cronExpr string) {
	g := gronx.New()
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			due, err := g.IsDue(cronExpr, time.Now())
			if err != nil || !due {
				continue
			}
			if _, err := RunOnce(cfg, time.Now()); err != nil {
				logger.Error("sweep_run_failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep pass and returns the number of keys
// pruned (or that would be pruned under dry_run).
func RunOnce(cfg config.SweepConfig, now time.Time) (int, error) {
	cutoff := now.Add(-cfg.MaxAge.Duration()).UnixNano()
	clearedKeys, err := store.ListKeys(store.PrefixCleared)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, ck := range clearedKeys {
		chatID := strings.TrimPrefix(ck, store.PrefixCleared)
		v, gerr := store.GetKey(ck)
		if gerr != nil {
			if store.IsNotFound(gerr) {
				continue
			}
			return pruned, gerr
		}
		clearedTS, perr := strconv.ParseInt(string(v), 10, 64)
		if perr != nil {
			logger.Warn("sweep_corrupt_cleared_marker", "key", ck, "error", perr)
			continue
		}
		if clearedTS > cutoff {
			continue
		}
		// a tombstone re-appeared after the clear: the chat was hidden
		// again, leave everything alone
		if _, hidden, herr := store.ChatHideTS(chatID); herr != nil {
			return pruned, herr
		} else if hidden {
			continue
		}

		victims, lerr := store.ListKeys(store.PrefixMsgTombstone + chatID + ":")
		if lerr != nil {
			return pruned, lerr
		}
		victims = append(victims, ck, store.PrefixSummary+chatID)
		for _, k := range victims {
			if cfg.DryRun {
				logger.Info("sweep_would_prune", "key", k)
				pruned++
				continue
			}
			if derr := store.DeleteKey(k); derr != nil {
				return pruned, derr
			}
			pruned++
		}
		logger.Info("sweep_pruned_chat", "chat", chatID, "keys", len(victims), "dry_run", cfg.DryRun)
	}
	return pruned, nil
}
