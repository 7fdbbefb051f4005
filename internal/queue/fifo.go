package queue

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue is closed")

// FIFO is an unbounded queue of pending task ids. Push never blocks, so
// submitters are never held up by execution; Pop blocks until an id is
// available, the queue is closed, or the context ends.
type FIFO struct {
	mu     sync.Mutex
	items  []string
	ready  chan struct{}
	closed bool
}

func New() *FIFO {
	return &FIFO{ready: make(chan struct{})}
}

func (q *FIFO) Push(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, id)
	q.wake()
	return nil
}

func (q *FIFO) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return id, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ready:
		}
	}
}

func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all waiting consumers. Ids still queued can be drained.
func (q *FIFO) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.wake()
	}
}

// wake releases every Pop currently waiting. Caller holds q.mu.
func (q *FIFO) wake() {
	close(q.ready)
	q.ready = make(chan struct{})
}
