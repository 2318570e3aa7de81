package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/signal"
)

// NATSQueue publishes to a subject derived from the exchange and consumes with a
// queue group named after the queue, so processes sharing a queue name split
// deliveries while distinct names each see all of them.
type NATSQueue struct {
	nc      *nats.Conn
	decl    Declaration
	subject string
	logger  *zap.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	closed bool

	listeners listeners
}

func NewNATSQueue(nc *nats.Conn, decl Declaration, vhost string, opts ...Option) (*NATSQueue, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	q := &NATSQueue{
		nc:      nc,
		decl:    decl,
		subject: decl.topic(vhost, "."),
		logger:  o.logger.With(zap.String("queue", decl.Key().String())),
	}

	sub, err := nc.QueueSubscribe(q.subject, decl.Queue.Name, q.onMessage)
	if err != nil {
		return nil, fmt.Errorf("queue: subscribe %s: %w", q.subject, err)
	}
	q.sub = sub
	q.logger.Debug("nats queue declared", zap.String("subject", q.subject))
	return q, nil
}

func (q *NATSQueue) Key() Key         { return q.decl.Key() }
func (q *NATSQueue) CanDequeue() bool { return false }

func (q *NATSQueue) Enqueue(_ context.Context, sig *signal.Signal) error {
	data, err := signal.Marshal(sig)
	if err != nil {
		return fmt.Errorf("queue: encode signal: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if err := q.nc.Publish(q.subject, data); err != nil {
		q.logger.Error("publish failed", zap.Error(err))
		return err
	}
	return nil
}

func (q *NATSQueue) Dequeue(context.Context) (*signal.Signal, error) {
	return nil, ErrDequeueUnsupported
}

// Count is the number of messages buffered client-side for this subscription.
func (q *NATSQueue) Count(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	n, _, err := q.sub.Pending()
	return int64(n), err
}

func (q *NATSQueue) Subscribe(l Listener) SubscriptionID { return q.listeners.add(l) }
func (q *NATSQueue) Unsubscribe(id SubscriptionID)       { q.listeners.remove(id) }

func (q *NATSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.sub.Unsubscribe()
}

func (q *NATSQueue) onMessage(m *nats.Msg) {
	sig, err := signal.Unmarshal(m.Data)
	if err != nil {
		q.logger.Warn("dropping undecodable message", zap.Error(err))
		return
	}
	q.listeners.notify(context.Background(), sig)
}
