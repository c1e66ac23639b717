package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatcore/internal/sweep"
	"chatcore/pkg/coalesce"
	"chatcore/pkg/config"
	"chatcore/pkg/events"
	"chatcore/pkg/lifecycle"
	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/policy"
	"chatcore/pkg/remote"
	"chatcore/pkg/store"
	"chatcore/pkg/telemetry"
	"chatcore/pkg/watch"
)

// App encapsulates the daemon components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	pol    policy.Policy
	life   *lifecycle.Lifecycle
	rstore remote.Store
	feed   remote.Feed
	poll   *remote.PollFeed
	mem    *remote.Memory

	queue      *events.Queue
	dispatcher *events.Dispatcher
	coal       *coalesce.Coalescer
	watcher    *watch.Watcher
	hub        *Hub

	srv         *http.Server
	sweepCancel context.CancelFunc
	feedCancel  func()
}

// New initializes resources that do not require a running context: the
// config is validated, the device store opened and the component graph
// built. Call Run to start the pipeline and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(&eff); err != nil {
		return nil, err
	}
	if err := store.OpenWithCache(eff.DBPath, int64(eff.Config.Storage.CacheSize)); err != nil {
		return nil, fmt.Errorf("failed to open local store at %s: %w", eff.DBPath, err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}
	cfg := eff.Config

	a.pol = policy.Policy{
		RecallWindow: cfg.Policy.RecallWindow.Duration(),
		EditWindow:   cfg.Policy.EditWindow.Duration(),
	}

	if cfg.Remote.Standalone {
		a.mem = remote.NewMemory()
		a.rstore = a.mem
		a.feed = a.mem
		logger.Info("remote_standalone_mode")
	} else {
		client := remote.NewClient(remote.ClientConfig{
			BaseURL: cfg.Remote.BaseURL,
			RPS:     cfg.Remote.RPS,
			Burst:   cfg.Remote.Burst,
			Timeout: cfg.Remote.Timeout.Duration(),
		})
		a.rstore = client
		a.poll = remote.NewPollFeed(client, cfg.Remote.PollInterval.Duration())
		a.feed = a.poll
	}

	a.life = lifecycle.New(a.pol, a.rstore)
	a.hub = NewHub()

	self := cfg.Identity.UserID
	a.coal = coalesce.New(coalesce.Options{
		MinInterval: cfg.Coalescer.MinInterval.Duration(),
		SelfID:      self,
		Refresh: func(sum models.ChatSummary) {
			a.hub.Publish(Signal{
				Kind:     "refresh",
				ChatID:   sum.ChatID,
				SenderID: sum.LastMessageSender,
				Text:     sum.LastMessageText,
				IsGroup:  sum.IsGroup,
				TS:       time.Now().UnixNano(),
			})
		},
		Notify: func(n coalesce.Notification) {
			a.hub.Publish(Signal{
				Kind:     "notify",
				ChatID:   n.ChatID,
				SenderID: n.SenderID,
				Text:     n.Text,
				IsGroup:  n.IsGroup,
				TS:       time.Now().UnixNano(),
			})
		},
	})

	a.watcher = watch.New(a.feed, self)
	a.watcher.OnRestore = func(chatID string) {
		a.hub.Publish(Signal{Kind: "restored", ChatID: chatID, TS: time.Now().UnixNano()})
	}

	a.queue = events.NewQueue(cfg.Coalescer.QueueCapacity)
	a.dispatcher = events.NewDispatcher(a.queue, cfg.Coalescer.Workers)
	a.registerHandlers()

	return a, nil
}

// registerHandlers wires the closed set of pipeline events. All per-chat
// state is mutated through these single-owner handlers.
func (a *App) registerHandlers() {
	a.dispatcher.RegisterHandler(events.HandlerSummaryChanged, func(ctx context.Context, ev *events.Event) error {
		var sum models.ChatSummary
		if err := json.Unmarshal(ev.Payload, &sum); err != nil {
			return fmt.Errorf("decode summary event: %w", err)
		}
		a.coal.Handle(sum)
		return nil
	})
	a.dispatcher.RegisterHandler(events.HandlerWatchStart, func(ctx context.Context, ev *events.Event) error {
		return a.watcher.Start(ev.Chat)
	})
	a.dispatcher.RegisterHandler(events.HandlerWatchStop, func(ctx context.Context, ev *events.Event) error {
		a.watcher.Stop(ev.Chat)
		return nil
	})
	a.dispatcher.RegisterHandler(events.HandlerTombstoneCleared, func(ctx context.Context, ev *events.Event) error {
		a.watcher.Stop(ev.Chat)
		a.hub.Publish(Signal{Kind: "refresh", ChatID: ev.Chat, TS: time.Now().UnixNano()})
		return nil
	})
}

// Run starts the pipeline, the feed, the sweeper and the HTTP server,
// and blocks until ctx is cancelled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.dispatcher.Start(ctx)

	if a.poll != nil {
		a.poll.Start(ctx)
	}
	fh, cancel, err := a.feed.SubscribeAll()
	if err != nil {
		return fmt.Errorf("subscribe firehose: %w", err)
	}
	a.feedCancel = cancel
	go a.pumpFeed(ctx, fh)

	// local tombstones are the only record of which chats are hidden;
	// re-derive the watch set from them before any new events apply
	if err := a.watcher.Resume(); err != nil {
		return fmt.Errorf("resume watches: %w", err)
	}

	sweepCancel, err := sweep.Start(ctx, a.eff.Config.Sweep)
	if err != nil {
		return err
	}
	a.sweepCancel = sweepCancel

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// pumpFeed moves raw firehose events into the bounded queue, blocking
// when the queue is full so a burst backpressures the feed instead of
// shedding events. A shed summary would be a missed counter increment
// and notification, which is never acceptable.
func (a *App) pumpFeed(ctx context.Context, fh <-chan models.ChatSummary) {
	for sum := range fh {
		b, err := json.Marshal(sum)
		if err != nil {
			continue
		}
		ev := &events.Event{
			Handler: events.HandlerSummaryChanged,
			Chat:    sum.ChatID,
			Payload: b,
			TS:      sum.LastMessageTS,
		}
		if err := a.queue.Enqueue(ctx, ev); err != nil {
			if errors.Is(err, events.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			telemetry.QueueDropped.Inc()
			logger.Warn("feed_event_dropped", "chat", sum.ChatID, "error", err)
		}
	}
}

func (a *App) shutdown() {
	logger.Info("shutting_down")
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.srv.Shutdown(sctx)
		cancel()
	}
	if a.feedCancel != nil {
		a.feedCancel()
	}
	if a.poll != nil {
		a.poll.Stop()
	}
	a.dispatcher.Stop()
	a.coal.Close()
	a.watcher.StopAll()
	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}

// Memory exposes the standalone in-process remote for the dev REPL and
// tests; nil when a real remote is configured.
func (a *App) Memory() *remote.Memory { return a.mem }
