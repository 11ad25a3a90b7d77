package relay

import "sync"

// keyedQueue serializes work per key while letting different keys run fully
// in parallel. Jobs for one key execute in submission order on a single
// worker goroutine; the worker exits when its queue drains.
type keyedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	active  map[string]bool
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{
		pending: make(map[string][]func()),
		active:  make(map[string]bool),
	}
}

func (q *keyedQueue) Do(key string, fn func()) {
	q.mu.Lock()
	q.pending[key] = append(q.pending[key], fn)
	if q.active[key] {
		q.mu.Unlock()
		return
	}
	q.active[key] = true
	q.mu.Unlock()

	go q.drain(key)
}

func (q *keyedQueue) drain(key string) {
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			delete(q.active, key)
			q.mu.Unlock()
			return
		}
		q.pending[key] = nil
		q.mu.Unlock()

		for _, fn := range jobs {
			fn()
		}
	}
}
