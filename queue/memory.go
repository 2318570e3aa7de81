package queue

import (
	"context"
	"sync"

	"github.com/mrjvadi/go-signal-server/signal"
)

// MemoryQueue is an in-process FIFO. Items stay put until Dequeue pops them.
type MemoryQueue struct {
	key Key

	mu     sync.Mutex
	items  []*signal.Signal
	closed bool

	listeners listeners
}

func NewMemoryQueue(key Key) *MemoryQueue {
	return &MemoryQueue{key: key}
}

func (q *MemoryQueue) Key() Key         { return q.key }
func (q *MemoryQueue) CanDequeue() bool { return true }

func (q *MemoryQueue) Enqueue(_ context.Context, sig *signal.Signal) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, sig)
	return nil
}

// Dequeue pops the oldest signal and hands it to every listener before
// returning it.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*signal.Signal, error) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, ErrEmpty
	}
	sig := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.mu.Unlock()

	q.listeners.notify(ctx, sig)
	return sig, nil
}

func (q *MemoryQueue) Count(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) Subscribe(l Listener) SubscriptionID { return q.listeners.add(l) }
func (q *MemoryQueue) Unsubscribe(id SubscriptionID)       { q.listeners.remove(id) }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	return nil
}
