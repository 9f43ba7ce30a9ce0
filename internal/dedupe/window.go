// ABOUTME: Bounded TTL window of recently seen update keys
// ABOUTME: Expired keys are pruned lazily from the front of an insertion-ordered list

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxSize caps how many keys a Window remembers.
const DefaultMaxSize = 10000

type seenKey struct {
	key string
	at  time.Time
}

// Window remembers keys for ttl, evicting the oldest beyond maxSize.
type Window struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	keys    map[string]*list.Element
	order   *list.List // oldest at front
	now     func() time.Time
}

// New creates a window. maxSize <= 0 means DefaultMaxSize.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Window{
		ttl:     ttl,
		maxSize: maxSize,
		keys:    make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Seen reports whether key was recorded within the window, and records it
// if not. A repeat refreshes the key's timestamp.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if elem, ok := w.keys[key]; ok {
		elem.Value.(*seenKey).at = now
		w.order.MoveToBack(elem)
		return true
	}

	if len(w.keys) >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.keys[key] = w.order.PushBack(&seenKey{key: key, at: now})
	return false
}

// Len returns the number of remembered keys, expired ones included until
// the next Seen call prunes them.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}

func (w *Window) pruneLocked(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		if now.Sub(front.Value.(*seenKey).at) < w.ttl {
			return
		}
		w.removeLocked(front)
	}
}

func (w *Window) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	w.order.Remove(elem)
	delete(w.keys, elem.Value.(*seenKey).key)
}
