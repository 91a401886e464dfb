package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"landingzone/internal/redis"
)

// Cache is the key/value store behind OAuth states and the session
// lookaside. *redis.Client implements it; memoryCache stands in when redis
// is not configured.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// NewCache returns client when set, otherwise an in-process cache.
func NewCache(client *redis.Client) Cache {
	if client == nil {
		return newMemoryCache()
	}
	return client
}

type memoryItem struct {
	value   string
	expires time.Time
}

// memorySweepInterval bounds how often Set scans for expired entries.
const memorySweepInterval = time.Minute

type memoryCache struct {
	mu        sync.Mutex
	items     map[string]memoryItem
	now       func() time.Time
	lastSweep time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	now := m.now()
	item := memoryItem{value: fmt.Sprint(value)}
	if ttl > 0 {
		item.expires = now.Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastSweep) >= memorySweepInterval {
		m.sweep(now)
	}
	m.items[key] = item
	return nil
}

// sweep drops every expired entry. mu must be held.
func (m *memoryCache) sweep(now time.Time) {
	for k, item := range m.items {
		if !item.expires.IsZero() && !now.Before(item.expires) {
			delete(m.items, k)
		}
	}
	m.lastSweep = now
}

func (m *memoryCache) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(key)
}

func (m *memoryCache) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.lookup(key)
	delete(m.items, key)
	return v, err
}

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.items, k)
	}
	m.mu.Unlock()
	return nil
}

// lookup must be called with mu held.
func (m *memoryCache) lookup(key string) (string, error) {
	item, ok := m.items[key]
	if !ok {
		return "", redis.ErrCacheMiss
	}
	if !item.expires.IsZero() && !m.now().Before(item.expires) {
		delete(m.items, key)
		return "", redis.ErrCacheMiss
	}
	return item.value, nil
}
