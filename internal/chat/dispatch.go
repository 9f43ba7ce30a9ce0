// ABOUTME: Per-chat update queues so one chat's turns run in order
// ABOUTME: Different chats are handled concurrently, each by its own short-lived worker

package chat

import (
	"context"
	"log/slog"
	"sync"
)

type queued struct {
	sender Sender
	update Update
}

// Dispatcher wraps a Handler so updates for the same chat run one at a time
// in arrival order, while other chats proceed in parallel. A transport's
// receive loop calls HandleUpdate and never waits on a handler.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[string][]queued // present while a worker runs for the key
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher in front of handler.
func NewDispatcher(handler Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handler: handler,
		logger:  logger.With("component", "dispatcher"),
		queues:  make(map[string][]queued),
	}
}

// HandleUpdate queues u behind earlier updates from the same chat.
func (d *Dispatcher) HandleUpdate(ctx context.Context, sender Sender, u Update) {
	key := u.Key()

	d.mu.Lock()
	q, running := d.queues[key]
	d.queues[key] = append(q, queued{sender: sender, update: u})
	if !running {
		d.wg.Add(1)
		go d.drain(ctx, key)
	}
	depth := len(q) + 1
	d.mu.Unlock()

	if depth > 1 {
		d.logger.Debug("update queued", "chat", key, "depth", depth)
	}
}

func (d *Dispatcher) drain(ctx context.Context, key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		next := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.handler.HandleUpdate(ctx, next.sender, next.update)
	}
}

// Wait blocks until every queued update has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
