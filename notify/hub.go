package notify

import (
	"sync"
	"sync/atomic"

	"github.com/maxpert/ripple/data"
)

// defaultSignalBufferSize is the buffer size for subscriber channels.
// Subscribers that can't keep up will have signals dropped (non-blocking send).
const defaultSignalBufferSize = 16

// Filter selects the notifications a subscriber receives.
type Filter struct {
	// Columns restricts signals to these observed columns. Empty means all.
	Columns []data.Column
}

type subscription struct {
	id     uint64
	filter Filter
	ch     chan Notification
	closed atomic.Bool
}

func (s *subscription) matches(col data.Column) bool {
	if len(s.filter.Columns) == 0 {
		return true
	}

	for _, c := range s.filter.Columns {
		if c.Equal(col) {
			return true
		}
	}
	return false
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub fans out committed notifications to in-process subscribers so
// discovery can react without waiting for its next scan.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends n to all matching subscribers without blocking.
func (h *Hub) Signal(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(n.Column) {
			continue
		}

		select {
		case sub.ch <- n:
		default:
			// Buffer full, the next scan picks it up
		}
	}
}

// Subscribe registers a subscriber and returns its channel and an idempotent
// cancel function. Signals are dropped while the channel buffer is full.
func (h *Hub) Subscribe(filter Filter) (<-chan Notification, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Notification, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(sub.id) }
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
