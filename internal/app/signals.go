package app

import (
	"context"
	"sync"
)

// Signal is one outward event for the UI layer: a cheap idempotent list
// refresh or a notification payload.
type Signal struct {
	Seq      uint64 `json:"seq"`
	Kind     string `json:"kind"` // refresh | notify | restored
	ChatID   string `json:"chat"`
	SenderID string `json:"sender,omitempty"`
	Text     string `json:"text,omitempty"`
	IsGroup  bool   `json:"is_group,omitempty"`
	TS       int64  `json:"ts"`
}

const hubBuffer = 256

// Hub fans refresh/notify signals into a bounded replay buffer consumed
// by the long-poll endpoint. Consumers are expected to tolerate one
// stale refresh around teardown.
type Hub struct {
	mu   sync.Mutex
	seq  uint64
	buf  []Signal
	wake chan struct{}
}

func NewHub() *Hub {
	return &Hub{wake: make(chan struct{})}
}

// Publish appends a signal, evicting the oldest once the buffer is full,
// and wakes all waiting pollers.
func (h *Hub) Publish(s Signal) {
	h.mu.Lock()
	h.seq++
	s.Seq = h.seq
	h.buf = append(h.buf, s)
	if len(h.buf) > hubBuffer {
		h.buf = h.buf[len(h.buf)-hubBuffer:]
	}
	close(h.wake)
	h.wake = make(chan struct{})
	h.mu.Unlock()
}

// Wait blocks until a signal newer than since exists or ctx is done, and
// returns all buffered signals after since.
func (h *Hub) Wait(ctx context.Context, since uint64) []Signal {
	for {
		h.mu.Lock()
		if h.seq > since {
			out := make([]Signal, 0, len(h.buf))
			for _, s := range h.buf {
				if s.Seq > since {
					out = append(out, s)
				}
			}
			h.mu.Unlock()
			return out
		}
		wake := h.wake
		h.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}
	}
}
