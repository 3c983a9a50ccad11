package stage

import (
	"sync"
	"sync/atomic"
)

// Queue is a thread-safe FIFO with blocking pops and cooperative shutdown.
// A bounded queue drops its oldest element when full so producers never
// block.
type Queue[T any] struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	items    []T
	capacity int
	shutdown bool

	drops atomic.Uint64
}

// NewQueue creates a named queue. A capacity of 0 means unbounded.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	q := &Queue[T]{name: name, capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue name used in logs.
func (q *Queue[T]) Name() string {
	return q.name
}

// Push appends v and wakes one waiting consumer. It returns false when the
// queue is shut down.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return false
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.drops.Add(1)
	}
	q.items = append(q.items, v)
	q.cond.Signal()
	return true
}

// PopBlocking waits for an element. It returns false once the queue is shut
// down, even if elements remain.
func (q *Queue[T]) PopBlocking() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.shutdown && len(q.items) == 0 {
		q.cond.Wait()
	}
	if q.shutdown {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// Pop returns the oldest element without waiting.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown || len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drops returns how many elements were discarded because the queue was full.
func (q *Queue[T]) Drops() uint64 {
	return q.drops.Load()
}

// Shutdown wakes all consumers and rejects further pushes. Idempotent.
func (q *Queue[T]) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	q.cond.Broadcast()
}

// Resume re-opens a shut down queue.
func (q *Queue[T]) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = false
}

// IsShutdown reports whether the queue is shut down.
func (q *Queue[T]) IsShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}

func (q *Queue[T]) popLocked() T {
	v := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v
}
