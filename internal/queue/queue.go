// Package queue implements the bounded blocking FIFO used to hand work
// between the accept loop, the client-handling pool and the worker pool.
//
// A full queue is the server's backpressure mechanism: the accept loop and
// the session loop probe with TryEnqueue and shed load instead of growing
// the buffer. Close poisons the queue so that goroutines blocked in
// Enqueue or Dequeue wake up with ErrClosed rather than hanging forever.
package queue

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by all operations after Close. Dequeue drains
	// remaining items before reporting it.
	ErrClosed = errors.New("queue is closed")

	// ErrFull is returned by TryEnqueue when the queue is at capacity.
	ErrFull = errors.New("queue is full")
)

// Queue is a fixed-capacity FIFO ring buffer safe for concurrent use.
// Capacity is set at creation and never grows.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items  []T
	head   int
	count  int
	closed bool
}

// New creates a queue with the given capacity. Capacities below 1 are
// clamped to 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}

	q := &Queue[T]{
		items: make([]T, capacity),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)

	return q
}

// Enqueue appends item at the tail, blocking while the queue is full.
// Returns ErrClosed if the queue is closed before space becomes available.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == len(q.items) && !q.closed {
		q.notFull.Wait()
	}

	if q.closed {
		return ErrClosed
	}

	q.push(item)
	q.notEmpty.Signal()

	return nil
}

// TryEnqueue appends item without blocking. Returns ErrFull when at
// capacity and ErrClosed after Close. This is the admission-control path:
// callers reject the work instead of waiting.
func (q *Queue[T]) TryEnqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if q.count == len(q.items) {
		return ErrFull
	}

	q.push(item)
	q.notEmpty.Signal()

	return nil
}

// Dequeue removes and returns the head item, blocking while the queue is
// empty. After Close, remaining items are still drained in order; once
// empty, Dequeue returns ErrClosed.
func (q *Queue[T]) Dequeue() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	if q.count == 0 {
		var zero T
		return zero, ErrClosed
	}

	item := q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--

	q.notFull.Signal()

	return item, nil
}

// Close poisons the queue: blocked producers and consumers wake up and
// observe ErrClosed (consumers after draining). Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int {
	return len(q.items)
}

// push appends at the tail. Caller must hold q.mu and have checked capacity.
func (q *Queue[T]) push(item T) {
	tail := (q.head + q.count) % len(q.items)
	q.items[tail] = item
	q.count++
}
