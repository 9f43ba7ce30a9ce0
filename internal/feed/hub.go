// ABOUTME: In-memory fan-out hub delivering marker events to connected map clients
// ABOUTME: Sends never block the mutation path; slow or departed clients miss events

package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber channel buffer.
const DefaultBufferSize = 64

// Hub tracks live feed subscribers and fans events out to them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// NewHub creates a hub. Pass 0 for the default buffer size and nil for the
// default logger.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "feed"),
	}
}

// Subscribe registers a client. Initial events are queued ahead of anything
// published later. The subscription ends when ctx is cancelled, on
// Unsubscribe, or when the hub closes; the channel is closed in every case.
func (h *Hub) Subscribe(ctx context.Context, initial ...Event) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, max(h.bufferSize, len(initial)))
	for _, e := range initial {
		ch <- e
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	h.subscribers[subID] = ch
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", subID, "subscribers", count)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers event to every subscriber without blocking. Sends happen
// under the read lock so a concurrent Unsubscribe cannot close a channel
// mid-send.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.logger.Debug("dropped event for slow subscriber",
				"sub_id", id,
				"kind", event.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subscribers[subID]
	if !ok {
		return
	}
	delete(h.subscribers, subID)
	close(ch)

	h.logger.Debug("subscriber removed", "sub_id", subID, "subscribers", len(h.subscribers))
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	h.closed = true

	h.logger.Debug("hub closed")
}
