// ABOUTME: Bounded TTL window of recently seen client nonces
// ABOUTME: Lets the realtime layer acknowledge resent frames without posting twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Window remembers keys for a fixed TTL, holding at most maxSize of them.
// Keys expire in insertion order, so expiry only ever inspects the front.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // of *mark, oldest first
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type mark struct {
	key     string
	expires time.Time
}

// New creates a window with the given TTL and capacity.
func New(ttl time.Duration, maxSize int) *Window {
	return &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: max(maxSize, 1),
		now:     time.Now,
	}
}

// Seen reports whether key was remembered and has not expired.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked()
	_, ok := w.index[key]
	return ok
}

// Remember records key, refreshing its TTL if already present. The oldest
// key is dropped when the window is full.
func (w *Window) Remember(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked()
	if el, ok := w.index[key]; ok {
		w.order.Remove(el)
		delete(w.index, key)
	}
	for len(w.index) >= w.maxSize {
		w.dropFront()
	}
	w.index[key] = w.order.PushBack(&mark{key: key, expires: w.now().Add(w.ttl)})
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked()
	return len(w.index)
}

func (w *Window) expireLocked() {
	now := w.now()
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		if now.Before(front.Value.(*mark).expires) {
			return
		}
		w.dropFront()
	}
}

func (w *Window) dropFront() {
	front := w.order.Front()
	if front == nil {
		return
	}
	w.order.Remove(front)
	delete(w.index, front.Value.(*mark).key)
}
