package scan

import "sync"

// Queue is the unbounded handoff queue between the scanner goroutine and the
// engine's cycle thread. Enqueue and drain are safe concurrently; drain swaps
// the backing slice out so the cycle thread never blocks on the scanner.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends entries in order.
func (q *Queue) Push(entries ...Entry) {
	if len(entries) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, entries...)
}

// Drain removes and returns everything queued so far, preserving order.
// Returns nil when the queue is empty.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.entries
	q.entries = nil

	return drained
}

// Len reports how many entries are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}
