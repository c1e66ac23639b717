package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Default and configuration values.
const defaultQueueCapacity = 16 * 1024
const fallbackQueueCapacity = 1024

// HandlerID identifies the concrete handler the dispatcher should invoke
// for an event. The set is closed: raw remote callbacks and watcher
// control both become one of these, so all per-chat state is mutated by a
// single owner instead of scattered listener registries.
type HandlerID string

const (
	HandlerSummaryChanged   HandlerID = "summary.changed"
	HandlerWatchStart       HandlerID = "watch.start"
	HandlerWatchStop        HandlerID = "watch.stop"
	HandlerTombstoneCleared HandlerID = "tombstone.cleared"
)

// Event is a lightweight in-memory representation of a remote-change or
// control event. Payload may be backed by a pooled ByteBuffer; consumers
// must call Item.Done() when finished.
type Event struct {
	Handler HandlerID
	// Chat is the chat id the event belongs to; events sharing a chat id
	// are processed by a single owner, in enqueue order.
	Chat string
	// Payload holds the raw bytes for the event (may be nil).
	Payload []byte
	// TS is an optional event timestamp (nanoseconds).
	TS int64
	// EnqSeq is a monotonic enqueue sequence assigned when the event is
	// accepted into the in-memory queue.
	EnqSeq uint64
}

// Item wraps an Event and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing.
type Item struct {
	Event *Event

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
	q    *Queue
}

// Done releases internal pooled resources back to the pool.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.q != nil {
			atomic.AddInt64(&it.q.inFlight, -1)
			it.q = nil
		}
		if it.buf != nil {
			// avoid retaining huge buffers in the pool
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Event != nil {
			it.Event.Payload = nil
			eventPool.Put(it.Event)
			it.Event = nil
		}
		itemPool.Put(it)
	})
}

var eventPool = sync.Pool{New: func() any { return &Event{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// maxPooledBuffer controls the largest buffer size returned to the pool;
// larger buffers are dropped so resident memory stays bounded.
var maxPooledBuffer = 256 * 1024 // 256 KiB

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("event queue full")

// ErrQueueClosed is returned when enqueue is attempted after close.
var ErrQueueClosed = errors.New("event queue closed")

// Counters for instrumentation.
var (
	enqueueTotal     uint64
	enqueueFailTotal uint64
	enqSeq           uint64
)

// Queue is a threadsafe, bounded in-memory queue of events. Producers are
// the remote feed callbacks (arbitrary goroutines); the single consumer
// is the dispatcher.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	closed   int32

	enqWg     sync.WaitGroup
	closeOnce sync.Once
	inFlight  int64
}

// NewQueue creates a bounded Queue of given capacity (>0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out exposes items for the dispatcher (do not close).
func (q *Queue) Out() <-chan *Item { return q.ch }

func (q *Queue) acquire(ev *Event) (*Item, *bytebufferpool.ByteBuffer) {
	newEv := eventPool.Get().(*Event)
	*newEv = *ev
	newEv.EnqSeq = atomic.AddUint64(&enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(ev.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], ev.Payload...)
		newEv.Payload = bb.B[:len(ev.Payload)]
	}
	it := itemPool.Get().(*Item)
	*it = Item{Event: newEv, buf: bb, q: q}
	return it, bb
}

func (q *Queue) release(it *Item, bb *bytebufferpool.ByteBuffer) {
	if bb != nil {
		bytebufferpool.Put(bb)
	}
	eventPool.Put(it.Event)
	it.Event = nil
	itemPool.Put(it)
	atomic.AddUint64(&q.dropped, 1)
	atomic.AddUint64(&enqueueFailTotal, 1)
}

// TryEnqueue enqueues an event without blocking; ErrQueueFull when full.
func (q *Queue) TryEnqueue(ev *Event) error {
	atomic.AddUint64(&enqueueTotal, 1)
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}
	q.enqWg.Add(1)
	defer q.enqWg.Done()
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}

	it, bb := q.acquire(ev)
	select {
	case q.ch <- it:
		atomic.AddInt64(&q.inFlight, 1)
		return nil
	default:
		q.release(it, bb)
		return ErrQueueFull
	}
}

// Enqueue blocks until ev is enqueued or ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, ev *Event) error {
	atomic.AddUint64(&enqueueTotal, 1)
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}
	q.enqWg.Add(1)
	defer q.enqWg.Done()
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}

	it, bb := q.acquire(ev)
	select {
	case q.ch <- it:
		atomic.AddInt64(&q.inFlight, 1)
		return nil
	case <-ctx.Done():
		q.release(it, bb)
		return ctx.Err()
	}
}

// CloseAndDrain marks the queue closed, waits out in-progress enqueues,
// then drains remaining items so pooled resources are released.
func (q *Queue) CloseAndDrain() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		q.enqWg.Wait()
		close(q.ch)
		for it := range q.ch {
			it.Done()
		}
	})
}

// Len returns the current number of items in the queue.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity of the queue.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns events dropped due to a full queue or cancellation.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

// EnqueuedTotal returns total attempted enqueues.
func (q *Queue) EnqueuedTotal() uint64 { return atomic.LoadUint64(&enqueueTotal) }

// FailedTotal returns total enqueue failures.
func (q *Queue) FailedTotal() uint64 { return atomic.LoadUint64(&enqueueFailTotal) }
