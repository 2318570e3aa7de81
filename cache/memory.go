// Package cache holds the bookkeeping stores: a generic in-memory map with
// optional expiry, and a JSON Store backed by memory or Redis.
package cache

import (
	"sync"
	"time"
)

// NoExpiry disables expiry on a Memory cache.
const NoExpiry time.Duration = -1

type entry[V any] struct {
	value   V
	created time.Time
}

// Memory is a goroutine-safe map with an optional time to live per entry.
// Expired entries are dropped lazily when read.
type Memory[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory returns a cache whose entries live for ttl. Use NoExpiry to keep
// entries until they are deleted.
func NewMemory[V any](ttl time.Duration) *Memory[V] {
	return &Memory[V]{
		items: make(map[string]entry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *Memory[V]) expired(e entry[V]) bool {
	return m.ttl >= 0 && m.now().Sub(e.created) > m.ttl
}

func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if m.expired(e) {
		m.mu.Lock()
		if cur, ok := m.items[key]; ok && m.expired(cur) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

func (m *Memory[V]) Set(key string, value V) {
	m.mu.Lock()
	m.items[key] = entry[V]{value: value, created: m.now()}
	m.mu.Unlock()
}

// GetOrCreate returns the live value under key, or stores and returns the
// result of create. create runs under the write lock, so concurrent callers
// never create twice.
func (m *Memory[V]) GetOrCreate(key string, create func() (V, error)) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.items[key]; ok && !m.expired(e) {
		return e.value, false, nil
	}

	v, err := create()
	if err != nil {
		var zero V
		return zero, false, err
	}
	m.items[key] = entry[V]{value: v, created: m.now()}
	return v, true, nil
}

// Delete removes key and returns the value it held.
func (m *Memory[V]) Delete(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if ok {
		delete(m.items, key)
	}
	return e.value, ok
}

// Search returns every live value matching pred.
func (m *Memory[V]) Search(pred func(key string, value V) bool) []V {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []V
	for k, e := range m.items {
		if m.expired(e) {
			continue
		}
		if pred(k, e.value) {
			out = append(out, e.value)
		}
	}
	return out
}

func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
