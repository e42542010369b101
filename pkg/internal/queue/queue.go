package queue

import "sync"

// Queue is an unbounded FIFO safe for concurrent use. Producers never block;
// a consumer waits on Ready and drains with Pop.
type Queue[T any] struct {
	items  []T
	mu     sync.Mutex
	ready  chan struct{}
	closed bool
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
	}
}

// Push appends a value. It returns false once the queue is closed.
func (q *Queue[T]) Push(value T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, value)
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop removes and returns the oldest value
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	value := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return value, true
}

// Ready is signalled after Push or Close. A signal may cover several values.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close refuses further pushes; queued values can still be popped
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Drained reports whether the queue is closed and empty
func (q *Queue[T]) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Len returns the number of queued values
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all values
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
