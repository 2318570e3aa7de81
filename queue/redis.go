package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/signal"
)

const fieldSignal = "signal"

// RedisQueue maps an exchange to a Redis stream and a queue to a consumer
// group on it. Distinct queue names each get every entry; processes sharing a
// queue name compete for entries inside one group.
type RedisQueue struct {
	rdb    *redis.Client
	decl   Declaration
	stream string
	group  string
	opts   options
	logger *zap.Logger

	// mu serializes publish and declare calls on this queue.
	mu sync.Mutex

	listeners listeners

	sem    chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewRedisQueue declares the stream and consumer group if they are missing and
// starts consuming immediately.
func NewRedisQueue(ctx context.Context, rdb *redis.Client, decl Declaration, vhost string, opts ...Option) (*RedisQueue, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	q := &RedisQueue{
		rdb:    rdb,
		decl:   decl,
		stream: decl.topic(vhost, ":"),
		group:  decl.Queue.Name,
		opts:   o,
		logger: o.logger.With(zap.String("queue", decl.Key().String())),
		sem:    make(chan struct{}, o.maxJobs),
	}

	q.mu.Lock()
	err := rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	q.mu.Unlock()
	if err != nil && !isGroupExists(err) {
		return nil, fmt.Errorf("queue: declare %s on stream %s: %w", q.group, q.stream, err)
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.consume(consumeCtx)
	}()

	q.logger.Debug("redis queue declared",
		zap.String("stream", q.stream),
		zap.String("group", q.group),
		zap.String("consumer", o.consumerID))
	return q, nil
}

func (q *RedisQueue) Key() Key         { return q.decl.Key() }
func (q *RedisQueue) CanDequeue() bool { return false }

func (q *RedisQueue) Enqueue(ctx context.Context, sig *signal.Signal) error {
	data, err := signal.Marshal(sig)
	if err != nil {
		return fmt.Errorf("queue: encode signal: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{fieldSignal: data},
	}
	if !q.decl.Queue.Durable && q.opts.streamMaxLen > 0 {
		args.MaxLen = q.opts.streamMaxLen
		args.Approx = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		q.logger.Error("publish failed", zap.Error(err))
		return err
	}
	return nil
}

func (q *RedisQueue) Dequeue(context.Context) (*signal.Signal, error) {
	return nil, ErrDequeueUnsupported
}

// Count is the consumer group's lag: entries added to the stream that the
// group has not been handed yet.
func (q *RedisQueue) Count(ctx context.Context) (int64, error) {
	groups, err := q.rdb.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return 0, err
	}
	for _, g := range groups {
		if g.Name == q.group {
			return g.Lag, nil
		}
	}
	return 0, nil
}

func (q *RedisQueue) Subscribe(l Listener) SubscriptionID { return q.listeners.add(l) }
func (q *RedisQueue) Unsubscribe(id SubscriptionID)       { q.listeners.remove(id) }

// Close stops consuming. Transient and auto-delete queues drop their consumer
// group; an auto-delete exchange drops its stream once no group is left.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if q.decl.removeOnClose() {
		if err := q.rdb.XGroupDestroy(ctx, q.stream, q.group).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if q.decl.Exchange.AutoDelete {
		groups, err := q.rdb.XInfoGroups(ctx, q.stream).Result()
		if err == nil && len(groups) == 0 {
			err = q.rdb.Del(ctx, q.stream).Err()
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (q *RedisQueue) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.opts.consumerID,
			Streams:  []string{q.stream, ">"},
			Count:    int64(cap(q.sem)),
			Block:    q.opts.readBlock,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Warn("read failed", zap.Error(err))
			time.Sleep(150 * time.Millisecond)
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				m := msg
				q.withConcurrency(func() {
					q.deliver(ctx, m)
				})
			}
		}
	}
}

func (q *RedisQueue) deliver(ctx context.Context, m redis.XMessage) {
	defer func() {
		// ack after listeners ran, whatever they did
		_ = q.rdb.XAck(context.Background(), q.stream, q.group, m.ID).Err()
	}()

	raw, _ := m.Values[fieldSignal].(string)
	sig, err := signal.Unmarshal([]byte(raw))
	if err != nil {
		q.logger.Warn("dropping undecodable entry", zap.String("id", m.ID), zap.Error(err))
		return
	}
	q.listeners.notify(ctx, sig)
}

func (q *RedisQueue) withConcurrency(fn func()) {
	q.sem <- struct{}{}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() { <-q.sem }()
		fn()
	}()
}

func isGroupExists(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
