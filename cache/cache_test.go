package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMemory[string](10 * time.Second)
	m.now = func() time.Time { return now }

	m.Set("a", "1")
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	now = now.Add(11 * time.Second)
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len(), "expired entry is dropped on read")
}

func TestMemoryNoExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMemory[int](NoExpiry)
	m.now = func() time.Time { return now }

	m.Set("a", 1)
	now = now.Add(24 * time.Hour)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestMemoryGetOrCreateCreatesOnce(t *testing.T) {
	m := NewMemory[*int](NoExpiry)
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := m.GetOrCreate("k", func() (*int, error) {
				calls.Add(1)
				n := 42
				return &n, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestMemoryGetOrCreateError(t *testing.T) {
	m := NewMemory[int](NoExpiry)
	boom := errors.New("boom")

	_, created, err := m.GetOrCreate("k", func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, created)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryDeleteAndSearch(t *testing.T) {
	m := NewMemory[int](NoExpiry)
	for i := 0; i < 5; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
	}

	v, ok := m.Delete("k0")
	require.True(t, ok)
	assert.Equal(t, 0, v)
	_, ok = m.Delete("k0")
	assert.False(t, ok)

	even := m.Search(func(_ string, v int) bool { return v%2 == 0 })
	sort.Ints(even)
	assert.Equal(t, []int{2, 4}, even)
}

type presence struct {
	Client string `json:"client"`
	Online bool   `json:"online"`
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(NoExpiry)

	require.NoError(t, s.Set(ctx, "presence:alice", presence{Client: "alice", Online: true}))
	require.NoError(t, s.Set(ctx, "presence:bob", presence{Client: "bob"}))
	require.NoError(t, s.Set(ctx, "other", presence{Client: "x"}))

	var p presence
	ok, err := s.Get(ctx, "presence:alice", &p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, p.Online)

	ok, err = s.Get(ctx, "missing", &p)
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := s.Keys(ctx, "presence:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"presence:alice", "presence:bob"}, keys)

	online, err := Search(s, func(p presence) bool { return p.Online })
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "alice", online[0].Client)

	require.NoError(t, s.Delete(ctx, "presence:alice"))
	ok, err = s.Get(ctx, "presence:alice", &p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewStoreUnknownKind(t *testing.T) {
	_, _, err := NewStore(context.Background(), Options{Kind: "tape"})
	assert.Error(t, err)
}

func TestNewRedisStoreUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()

	_, err := NewRedisStore(context.Background(), rdb, time.Minute, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("cache-test:%d:", time.Now().UnixNano())

	st, closeFn, err := NewStore(ctx, Options{Kind: KindRedis, Addr: addr, Prefix: prefix, TTL: time.Minute})
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, st.Set(ctx, "presence:alice", presence{Client: "alice", Online: true}))

	var p presence
	ok, err := st.Get(ctx, "presence:alice", &p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", p.Client)

	keys, err := st.Keys(ctx, "presence:")
	require.NoError(t, err)
	assert.Equal(t, []string{"presence:alice"}, keys)

	_, err = Search(st, func(presence) bool { return true })
	assert.ErrorIs(t, err, ErrSearchUnsupported)

	require.NoError(t, st.Delete(ctx, "presence:alice"))
	ok, err = st.Get(ctx, "presence:alice", &p)
	require.NoError(t, err)
	assert.False(t, ok)
}
