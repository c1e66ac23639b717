package events

import (
	"context"
	"hash/fnv"
	"sync"

	"chatcore/pkg/logger"
)

// Handler processes one event. Handlers for the same chat id never run
// concurrently; cross-chat events run fully in parallel.
type Handler func(ctx context.Context, ev *Event) error

// Dispatcher routes queued events to registered handlers over a set of
// hash-sharded workers. Sharding by chat id gives every chat a single
// logical owner while preserving the per-chat delivery order of the
// queue.
type Dispatcher struct {
	q        *Queue
	workers  int
	handlers map[HandlerID]Handler

	shards []chan *Item
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewDispatcher builds a dispatcher over q with the given worker count.
func NewDispatcher(q *Queue, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{q: q, workers: workers, handlers: map[HandlerID]Handler{}}
}

// RegisterHandler wires a handler for one event kind. Must be called
// before Start.
func (d *Dispatcher) RegisterHandler(id HandlerID, h Handler) {
	d.handlers[id] = h
}

// Start launches the router and worker goroutines. The router drains the
// queue in order and forwards each item to the shard owning its chat id.
func (d *Dispatcher) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel

	d.shards = make([]chan *Item, d.workers)
	shardCap := d.q.Cap() / d.workers
	if shardCap <= 0 {
		shardCap = 64
	}
	for i := range d.shards {
		d.shards[i] = make(chan *Item, shardCap)
		d.wg.Add(1)
		go d.runWorker(ctx, d.shards[i])
	}

	d.wg.Add(1)
	go d.route(ctx)
}

func (d *Dispatcher) route(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case it, ok := <-d.q.Out():
			if !ok {
				for _, sh := range d.shards {
					close(sh)
				}
				return
			}
			shard := d.shards[shardIndex(it.Event.Chat, d.workers)]
			select {
			case shard <- it:
			case <-ctx.Done():
				it.Done()
				for _, sh := range d.shards {
					close(sh)
				}
				return
			}
		case <-ctx.Done():
			for _, sh := range d.shards {
				close(sh)
			}
			return
		}
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, shard <-chan *Item) {
	defer d.wg.Done()
	for it := range shard {
		func(it *Item) {
			defer it.Done()
			h, ok := d.handlers[it.Event.Handler]
			if !ok {
				logger.Warn("dispatch_unknown_handler", "handler", string(it.Event.Handler), "chat", it.Event.Chat)
				return
			}
			if err := h(ctx, it.Event); err != nil {
				logger.Error("event_handler_failed", "handler", string(it.Event.Handler), "chat", it.Event.Chat, "error", err)
			}
		}(it)
	}
}

// Stop closes the queue, lets in-flight handlers finish and waits for all
// workers to exit. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		d.q.CloseAndDrain()
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
	})
}

func shardIndex(chatID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return int(h.Sum32() % uint32(n))
}
