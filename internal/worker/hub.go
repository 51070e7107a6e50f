package worker

import (
	"log/slog"
	"sync"

	"github.com/Aman-CERP/annworker/internal/embed"
	"github.com/Aman-CERP/annworker/internal/index"
	"github.com/Aman-CERP/annworker/internal/metrics"
	"github.com/Aman-CERP/annworker/internal/protocol"
)

// Hub fans unsolicited events out to every connected host. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	metrics *metrics.Metrics

	mu   sync.RWMutex
	subs map[uint64]chan protocol.Envelope
	next uint64
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		metrics: m,
		subs:    make(map[uint64]chan protocol.Envelope),
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan protocol.Envelope, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan protocol.Envelope, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers env to every subscriber that has room.
func (h *Hub) Publish(env protocol.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
			h.metrics.EventDropped(env.Type)
			slog.Debug("event_dropped", slog.String("type", env.Type))
		}
	}
}

// IndexProgress publishes an insertion progress event.
func (h *Hub) IndexProgress(p index.Progress) {
	h.Publish(protocol.Event(protocol.EventIndexProgress, p))
}

// Status publishes a lifecycle status event.
func (h *Hub) Status(s index.Status) {
	h.Publish(protocol.Event(protocol.EventStatus, s))
}

// ModelProgress publishes a model load progress event.
func (h *Hub) ModelProgress(p embed.LoadProgress) {
	h.Publish(protocol.Event(protocol.EventModelLoadProgress, p))
}
