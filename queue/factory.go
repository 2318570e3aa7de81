package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Factory creates queues for one backend. Factories own the broker connection.
type Factory interface {
	Service() Service
	NewQueue(ctx context.Context, decl Declaration) (Queue, error)
	Close() error
}

// NewFactory connects to the backend named by cfg.Service.
func NewFactory(ctx context.Context, cfg BrokerConfig, opts ...Option) (Factory, error) {
	if cfg.Service == "" {
		cfg.Service = ServiceMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxJobs > 0 {
		opts = append(opts, WithMaxJobs(cfg.MaxJobs))
	}
	if cfg.StreamLength > 0 {
		opts = append(opts, WithStreamLength(cfg.StreamLength))
	}
	if cfg.ReadBlock > 0 {
		opts = append(opts, WithReadBlock(cfg.ReadBlock))
	}

	switch cfg.Service {
	case ServiceRedis:
		return NewRedisFactory(ctx, cfg, opts...)
	case ServiceNATS:
		return NewNATSFactory(cfg, opts...)
	}
	return MemoryFactory{}, nil
}

type MemoryFactory struct{}

func (MemoryFactory) Service() Service { return ServiceMemory }
func (MemoryFactory) Close() error     { return nil }

func (MemoryFactory) NewQueue(_ context.Context, decl Declaration) (Queue, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	return NewMemoryQueue(decl.Key()), nil
}

type RedisFactory struct {
	rdb   *redis.Client
	vhost string
	opts  []Option
}

// NewRedisFactory dials cfg.Host and pings it; an unreachable server is
// reported as ErrBrokerUnavailable.
func NewRedisFactory(ctx context.Context, cfg BrokerConfig, opts ...Option) (*RedisFactory, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", ErrBrokerUnavailable, cfg.Host, err)
	}
	return &RedisFactory{rdb: rdb, vhost: cfg.VirtualHost, opts: opts}, nil
}

func (f *RedisFactory) Service() Service { return ServiceRedis }
func (f *RedisFactory) Close() error     { return f.rdb.Close() }

func (f *RedisFactory) NewQueue(ctx context.Context, decl Declaration) (Queue, error) {
	return NewRedisQueue(ctx, f.rdb, decl, f.vhost, f.opts...)
}

type NATSFactory struct {
	nc    *nats.Conn
	vhost string
	opts  []Option
}

func NewNATSFactory(cfg BrokerConfig, opts ...Option) (*NATSFactory, error) {
	url := cfg.Host
	if !strings.Contains(url, "://") {
		url = "nats://" + url
	}
	natsOpts := []nats.Option{nats.Name("signalserver")}
	if cfg.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: nats %s: %v", ErrBrokerUnavailable, url, err)
	}
	return &NATSFactory{nc: nc, vhost: cfg.VirtualHost, opts: opts}, nil
}

func (f *NATSFactory) Service() Service { return ServiceNATS }

func (f *NATSFactory) Close() error {
	f.nc.Close()
	return nil
}

func (f *NATSFactory) NewQueue(_ context.Context, decl Declaration) (Queue, error) {
	return NewNATSQueue(f.nc, decl, f.vhost, f.opts...)
}
