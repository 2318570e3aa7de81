package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrjvadi/go-signal-server/signal"
)

func newRedisClient(addr string, db int, poolSize, minIdle int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdle,
		WriteTimeout: 200 * time.Millisecond,
	})
}

func newRedisQueueForBench(b *testing.B, decl Declaration) *RedisQueue {
	b.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		b.Skip("REDIS_ADDR not set")
	}
	rdb := newRedisClient(addr, getenvInt("REDIS_DB", 15), 512, 128)
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		b.Fatalf("redis ping failed: %v", err)
	}

	q, err := NewRedisQueue(ctx, rdb, decl, "bench",
		WithMaxJobs(3000),
		WithStreamLength(100_000),
		WithReadBlock(100*time.Millisecond),
	)
	if err != nil {
		b.Fatalf("declare failed: %v", err)
	}
	b.Cleanup(func() {
		_ = q.Close()
		_ = rdb.Close()
	})
	return q
}

func benchDeclaration() Declaration {
	return Declaration{
		Exchange: ExchangeConfig{Name: fmt.Sprintf("bench_stream_%d", time.Now().UnixNano()), Kind: Fanout, AutoDelete: true},
		Queue:    QueueConfig{Name: "bench_group", AutoDelete: true},
	}
}

// Enqueue N and wait for every delivery.
func BenchmarkRedisQueue_Throughput(b *testing.B) {
	q := newRedisQueueForBench(b, benchDeclaration())
	ctx := context.Background()

	done := make(chan struct{}, 1<<20)
	q.Subscribe(func(context.Context, *signal.Signal) {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	s := sig("bench/task", "bench")
	s.Payload = []byte("payload")
	b.ReportAllocs()

	const warm = 512
	for i := 0; i < warm; i++ {
		if err := q.Enqueue(ctx, s); err != nil {
			b.Fatalf("warmup enqueue failed: %v", err)
		}
	}
	for i := 0; i < warm; i++ {
		<-done
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := q.Enqueue(ctx, s); err != nil {
			b.Fatalf("enqueue failed: %v", err)
		}
	}
	for i := 0; i < b.N; i++ {
		<-done
	}
	b.StopTimer()
}

func BenchmarkRedisQueue_Parallel(b *testing.B) {
	q := newRedisQueueForBench(b, benchDeclaration())
	ctx := context.Background()

	done := make(chan struct{}, 1<<20)
	q.Subscribe(func(context.Context, *signal.Signal) {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	s := sig("bench/task", "bench")
	s.Payload = []byte("payload")
	b.ReportAllocs()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := q.Enqueue(ctx, s); err != nil {
				b.Fatalf("enqueue failed: %v", err)
			}
			<-done
		}
	})
	b.StopTimer()
}

// Enqueue through the handler and wait for the worker to drain each item.
func BenchmarkMemoryHandler_Throughput(b *testing.B) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHandler(MemoryFactory{})
	key := Key{Exchange: "bench", Queue: "task"}
	if _, err := h.CreateQueue(ctx, DefaultDeclaration(key)); err != nil {
		b.Fatal(err)
	}
	done := make(chan struct{}, 1<<20)
	if _, err := h.AddEvent(key, func(context.Context, *signal.Signal) { done <- struct{}{} }); err != nil {
		b.Fatal(err)
	}
	h.Start(ctx)
	b.Cleanup(func() { _ = h.Stop() })

	s := sig("bench/task", "bench")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := h.Enqueue(ctx, key, s); err != nil {
			b.Fatalf("enqueue failed: %v", err)
		}
	}
	for i := 0; i < b.N; i++ {
		<-done
	}
	b.StopTimer()
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n != 0 {
			return n
		}
	}
	return def
}
