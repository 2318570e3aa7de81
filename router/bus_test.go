package router

import (
	"context"
	"sync"

	"github.com/mrjvadi/go-signal-server/queue"
	"github.com/mrjvadi/go-signal-server/signal"
)

// bus is an in-process broker shared by several routers. Queues bound to the
// same topic under distinct names each get every message; queues sharing a
// name take turns, like consumers in one group. Delivery is synchronous.
type bus struct {
	mu     sync.Mutex
	topics map[string]map[string][]*busQueue
	turn   map[string]int
}

func newBus() *bus {
	return &bus{
		topics: make(map[string]map[string][]*busQueue),
		turn:   make(map[string]int),
	}
}

func busTopic(d queue.Declaration) string {
	if d.Exchange.Kind == queue.Direct {
		return d.Exchange.Name + ":" + d.Queue.RoutingKey
	}
	return d.Exchange.Name
}

func (b *bus) bind(q *busQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic := busTopic(q.decl)
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string][]*busQueue)
	}
	b.topics[topic][q.decl.Queue.Name] = append(b.topics[topic][q.decl.Queue.Name], q)
}

func (b *bus) unbind(q *busQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic := busTopic(q.decl)
	members := b.topics[topic][q.decl.Queue.Name]
	for i, m := range members {
		if m == q {
			b.topics[topic][q.decl.Queue.Name] = append(members[:i:i], members[i+1:]...)
			return
		}
	}
}

func (b *bus) publish(ctx context.Context, topic string, sig *signal.Signal) {
	b.mu.Lock()
	var targets []*busQueue
	for name, members := range b.topics[topic] {
		if len(members) == 0 {
			continue
		}
		k := topic + "/" + name
		targets = append(targets, members[b.turn[k]%len(members)])
		b.turn[k]++
	}
	b.mu.Unlock()

	for _, q := range targets {
		q.deliver(ctx, sig.Clone())
	}
}

type busListener struct {
	id queue.SubscriptionID
	fn queue.Listener
}

type busQueue struct {
	bus  *bus
	decl queue.Declaration

	mu        sync.Mutex
	next      queue.SubscriptionID
	listeners []busListener
}

func (q *busQueue) Key() queue.Key   { return q.decl.Key() }
func (q *busQueue) CanDequeue() bool { return false }

func (q *busQueue) Enqueue(ctx context.Context, sig *signal.Signal) error {
	q.bus.publish(ctx, busTopic(q.decl), sig)
	return nil
}

func (q *busQueue) Dequeue(context.Context) (*signal.Signal, error) {
	return nil, queue.ErrDequeueUnsupported
}

func (q *busQueue) Count(context.Context) (int64, error) { return 0, nil }

func (q *busQueue) Subscribe(l queue.Listener) queue.SubscriptionID {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.listeners = append(q.listeners, busListener{id: q.next, fn: l})
	return q.next
}

func (q *busQueue) Unsubscribe(id queue.SubscriptionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, l := range q.listeners {
		if l.id == id {
			q.listeners = append(q.listeners[:i:i], q.listeners[i+1:]...)
			return
		}
	}
}

func (q *busQueue) Close() error {
	q.bus.unbind(q)
	return nil
}

func (q *busQueue) deliver(ctx context.Context, sig *signal.Signal) {
	q.mu.Lock()
	ls := append([]busListener(nil), q.listeners...)
	q.mu.Unlock()
	for _, l := range ls {
		l.fn(ctx, sig)
	}
}

type busFactory struct{ bus *bus }

func (f busFactory) Service() queue.Service { return "bus" }
func (f busFactory) Close() error           { return nil }

func (f busFactory) NewQueue(_ context.Context, decl queue.Declaration) (queue.Queue, error) {
	q := &busQueue{bus: f.bus, decl: decl}
	f.bus.bind(q)
	return q, nil
}
