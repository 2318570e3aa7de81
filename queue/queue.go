// Package queue is the channel abstraction behind signal dispatch.
//
// A Queue is one (exchange, queue) binding. Two delivery styles exist behind the
// same interface: pull-based queues (memory) that the Handler drains, and
// push-based queues (redis, nats) whose broker deliveries invoke listeners
// directly. Which style a queue has is fixed when it is created.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/mrjvadi/go-signal-server/signal"
)

var (
	ErrEmpty              = errors.New("queue: empty")
	ErrDequeueUnsupported = errors.New("queue: dequeue not supported, deliveries are pushed by the broker")
	ErrUnknownQueue       = errors.New("queue: unknown queue")
	ErrBrokerUnavailable  = errors.New("queue: broker unavailable")
	ErrClosed             = errors.New("queue: closed")
	ErrInvalidDeclaration = errors.New("queue: invalid declaration")
)

// Listener receives every signal dequeued from, or delivered to, a queue.
type Listener func(ctx context.Context, sig *signal.Signal)

// SubscriptionID identifies one registered Listener.
type SubscriptionID uint64

// Key identifies a logical channel.
type Key struct {
	Exchange string
	Queue    string
}

func (k Key) String() string { return k.Exchange + "/" + k.Queue }

type Queue interface {
	Key() Key
	// Enqueue publishes sig to the queue's exchange.
	Enqueue(ctx context.Context, sig *signal.Signal) error
	// Dequeue pops one signal and notifies listeners. Only queues whose
	// CanDequeue is true support it.
	Dequeue(ctx context.Context) (*signal.Signal, error)
	CanDequeue() bool
	// Count is the number of signals waiting on the queue.
	Count(ctx context.Context) (int64, error)
	Subscribe(l Listener) SubscriptionID
	// Unsubscribe is a no-op for unknown or already removed ids.
	Unsubscribe(id SubscriptionID)
	Close() error
}

type listenerEntry struct {
	id SubscriptionID
	fn Listener
}

// listeners is an ordered callback list. Notification order is subscription order.
type listeners struct {
	mu      sync.RWMutex
	next    SubscriptionID
	entries []listenerEntry
}

func (l *listeners) add(fn Listener) SubscriptionID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.entries = append(l.entries, listenerEntry{id: l.next, fn: fn})
	return l.next
}

func (l *listeners) remove(id SubscriptionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *listeners) notify(ctx context.Context, sig *signal.Signal) {
	l.mu.RLock()
	snapshot := make([]listenerEntry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.RUnlock()

	for _, e := range snapshot {
		e.fn(ctx, sig)
	}
}

func (l *listeners) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
