package whatsapp

import (
	"context"
	"sync"
)

// serialQueue runs tasks one at a time per key, in submission order.
// A worker goroutine exists only while a key has pending tasks.
type serialQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
}

func newSerialQueue() *serialQueue {
	return &serialQueue{pending: make(map[string][]func())}
}

// Submit enqueues fn for key without waiting
func (q *serialQueue) Submit(key string, fn func()) {
	q.mu.Lock()
	tasks, running := q.pending[key]
	q.pending[key] = append(tasks, fn)
	q.mu.Unlock()

	if !running {
		go q.drain(key)
	}
}

// Run enqueues fn for key and waits for its result. It must not be
// called from a task of the same key.
func (q *serialQueue) Run(ctx context.Context, key string, fn func() error) error {
	done := make(chan error, 1)
	q.Submit(key, func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *serialQueue) drain(key string) {
	for {
		q.mu.Lock()
		tasks := q.pending[key]
		if len(tasks) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		fn := tasks[0]
		tasks[0] = nil
		q.pending[key] = tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
