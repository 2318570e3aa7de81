package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrUnavailable       = errors.New("cache: backing service unavailable")
	ErrSearchUnsupported = errors.New("cache: search is not supported by this store")
	errNilRedisClient    = errors.New("cache: nil redis client")
	errUnknownStoreKind  = errors.New("cache: unknown store kind")
)

// Store keeps JSON encoded values under string keys. Extensions use it for
// their own bookkeeping, such as presence.
type Store interface {
	// Get decodes the value under key into v and reports whether it existed.
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	// Keys returns the keys that start with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryStore is a Store over a Memory cache.
type MemoryStore struct {
	m *Memory[[]byte]
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{m: NewMemory[[]byte](ttl)}
}

func (s *MemoryStore) Get(_ context.Context, key string, v any) (bool, error) {
	b, ok := s.m.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	s.m.Set(key, b)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.m.Delete(key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	var keys []string
	for k, e := range s.m.items {
		if strings.HasPrefix(k, prefix) && !s.m.expired(e) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Search decodes every live value into a fresh T and returns those matching
// pred. Only a MemoryStore can be searched; Redis stores report
// ErrSearchUnsupported.
func Search[T any](st Store, pred func(T) bool) ([]T, error) {
	s, ok := st.(*MemoryStore)
	if !ok {
		return nil, ErrSearchUnsupported
	}
	var out []T
	for _, b := range s.m.Search(func(string, []byte) bool { return true }) {
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("cache: decode: %w", err)
		}
		if pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// RedisStore is a Store over Redis strings. Every write refreshes the TTL.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore pings the server before returning; an unreachable server is
// reported as ErrUnavailable.
func NewRedisStore(ctx context.Context, rdb *redis.Client, ttl time.Duration, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, errNilRedisClient
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: prefix}, nil
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return s.rdb.Set(ctx, s.key(key), b, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Keys walks the keyspace with SCAN; it is meant for small, prefixed keyspaces.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.key(prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Kind selects a Store implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// Options configures NewStore.
type Options struct {
	Kind   Kind
	Addr   string
	DB     int
	Prefix string
	TTL    time.Duration
}

// NewStore builds the configured store. The returned close func releases the
// Redis client, if one was opened.
func NewStore(ctx context.Context, o Options) (Store, func() error, error) {
	switch Kind(strings.ToLower(string(o.Kind))) {
	case KindMemory, "":
		return NewMemoryStore(o.TTL), func() error { return nil }, nil
	case KindRedis:
		rdb := redis.NewClient(&redis.Options{Addr: o.Addr, DB: o.DB})
		s, err := NewRedisStore(ctx, rdb, o.TTL, o.Prefix)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return s, rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownStoreKind, o.Kind)
	}
}
