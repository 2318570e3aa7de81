package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrjvadi/go-signal-server/signal"
)

func sig(route, sender string) *signal.Signal {
	s := signal.New(route)
	s.Sender = sender
	return s
}

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Key{Exchange: "ex", Queue: "q"})
	assert.True(t, q.CanDequeue())

	require.NoError(t, q.Enqueue(ctx, sig("a/one", "alice")))
	require.NoError(t, q.Enqueue(ctx, sig("a/two", "alice")))

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", first.Action())

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", second.Action())
}

func TestMemoryQueueEmptyDoesNotNotify(t *testing.T) {
	q := NewMemoryQueue(Key{Exchange: "ex", Queue: "q"})
	called := false
	q.Subscribe(func(context.Context, *signal.Signal) { called = true })

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
	assert.False(t, called)
}

func TestMemoryQueueListenerOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Key{Exchange: "ex", Queue: "q"})

	var order []int
	q.Subscribe(func(context.Context, *signal.Signal) { order = append(order, 1) })
	id := q.Subscribe(func(context.Context, *signal.Signal) { order = append(order, 2) })
	q.Subscribe(func(context.Context, *signal.Signal) { order = append(order, 3) })

	require.NoError(t, q.Enqueue(ctx, sig("a/b", "alice")))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, order)

	q.Unsubscribe(id)
	q.Unsubscribe(id)
	q.Unsubscribe(999)

	order = nil
	require.NoError(t, q.Enqueue(ctx, sig("a/b", "alice")))
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, order)
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(Key{Exchange: "ex", Queue: "q"})
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), sig("a/b", "alice")), ErrClosed)
}

func TestDeclarationValidate(t *testing.T) {
	assert.NoError(t, DefaultDeclaration(Key{Exchange: "ex", Queue: "q"}).Validate())

	assert.ErrorIs(t, Declaration{Queue: QueueConfig{Name: "q"}}.Validate(), ErrInvalidDeclaration)
	assert.ErrorIs(t, Declaration{Exchange: ExchangeConfig{Name: "ex", Kind: Direct}}.Validate(), ErrInvalidDeclaration)
	assert.ErrorIs(t, Declaration{
		Exchange: ExchangeConfig{Name: "ex", Kind: "topic"},
		Queue:    QueueConfig{Name: "q"},
	}.Validate(), ErrInvalidDeclaration)
}

func TestDeclarationTopic(t *testing.T) {
	fan := Declaration{
		Exchange: ExchangeConfig{Name: "requests", Kind: Fanout},
		Queue:    QueueConfig{Name: "node-1", RoutingKey: "ignored"},
	}
	assert.Equal(t, "requests", fan.topic("", ":"))
	assert.Equal(t, "prod:requests", fan.topic("prod", ":"))

	direct := DefaultDeclaration(Key{Exchange: "requests", Queue: "work"})
	assert.Equal(t, "requests.work", direct.topic("", "."))
	assert.Equal(t, "prod.requests.work", direct.topic("prod", "."))
}

func TestParseExchangeKindAndService(t *testing.T) {
	k, err := ParseExchangeKind("FANOUT")
	require.NoError(t, err)
	assert.Equal(t, Fanout, k)

	k, err = ParseExchangeKind("")
	require.NoError(t, err)
	assert.Equal(t, Direct, k)

	_, err = ParseExchangeKind("headers")
	assert.ErrorIs(t, err, ErrInvalidDeclaration)

	svc, err := ParseService("Redis")
	require.NoError(t, err)
	assert.Equal(t, ServiceRedis, svc)

	svc, err = ParseService("")
	require.NoError(t, err)
	assert.Equal(t, ServiceMemory, svc)

	_, err = ParseService("rabbit")
	assert.ErrorIs(t, err, ErrInvalidDeclaration)
}

func TestBrokerConfigValidate(t *testing.T) {
	assert.NoError(t, BrokerConfig{Service: ServiceMemory}.Validate())
	assert.NoError(t, BrokerConfig{Service: ServiceRedis, Host: "localhost:6379"}.Validate())
	assert.ErrorIs(t, BrokerConfig{Service: ServiceNATS}.Validate(), ErrInvalidDeclaration)
	assert.ErrorIs(t, BrokerConfig{Service: "kafka"}.Validate(), ErrInvalidDeclaration)
}
