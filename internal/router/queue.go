package router

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO that doubles its ring when 70% full.
// It supports many producers and a single consumer.
type Queue[T any] struct {
	mu       sync.Mutex
	ring     []T
	head     int // read position
	count    int
	closed   bool
	notify   chan struct{} // Capacity 1, closed by Close
	pushed   int64
	popped   int64
	grows    int
	maxDepth int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		ring:   make([]T, initialCapacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends item. It returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := max(len(q.ring)*70/100, 1)
	if q.count+1 >= threshold {
		q.grow()
	}

	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.pushed++
	q.maxDepth = max(q.maxDepth, q.count)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest item, waiting until one is available. It returns
// false when the queue is closed and drained, or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if item, ok, closed := q.tryPop(); ok || closed {
			return item, ok
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// TryPop removes the oldest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	item, ok, _ := q.tryPop()
	return item, ok
}

func (q *Queue[T]) tryPop() (item T, ok, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return item, false, q.closed
	}

	item = q.ring[q.head]
	var zero T
	q.ring[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	q.popped++
	return item, true, false
}

// Close stops accepting items. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:    q.count,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Grows:    q.grows,
		MaxDepth: q.maxDepth,
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Depth    int
	Capacity int
	Pushed   int64
	Popped   int64
	Grows    int
	MaxDepth int
}

// grow doubles the ring, unwrapping it so head is 0. Must be called with
// lock held.
func (q *Queue[T]) grow() {
	ring := make([]T, len(q.ring)*2)
	n := copy(ring, q.ring[q.head:min(q.head+q.count, len(q.ring))])
	if n < q.count {
		copy(ring[n:], q.ring[:q.count-n])
	}
	q.ring = ring
	q.head = 0
	q.grows++
}
