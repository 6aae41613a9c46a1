package session

import "sync"

// Queue is a bounded FIFO of outbound payloads. Push never blocks.
// The writer peeks, transmits, and only then pops, so a payload whose write
// fails is retried on the next connection.
type Queue struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
}

// NewQueue returns an empty queue holding at most capacity payloads.
func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Push appends p, or returns ErrQueueFull when the queue is at capacity.
func (q *Queue) Push(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, p)
	return nil
}

// Peek returns the oldest payload without removing it.
func (q *Queue) Peek() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Pop removes the oldest payload, if any.
func (q *Queue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items[0] = nil
	q.items = q.items[1:]
}

// Len is the number of pending payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap is the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Clear discards every pending payload and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
