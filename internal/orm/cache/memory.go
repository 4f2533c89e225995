package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache implements an in-process record cache backend with TTL support
type MemoryCache struct {
	mu     sync.RWMutex
	items  map[string]cacheItem
	config BackendConfig
	cancel context.CancelFunc
	now    func() time.Time
}

var _ Backend = (*MemoryCache)(nil)

type cacheItem struct {
	value      []byte
	expiration time.Time
}

func (i cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithConfig(DefaultBackendConfig())
}

// NewMemoryCacheWithConfig creates a new in-memory cache with custom configuration
func NewMemoryCacheWithConfig(config BackendConfig) *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	mc := &MemoryCache{
		items:  make(map[string]cacheItem),
		config: config,
		cancel: cancel,
		now:    time.Now,
	}

	go mc.cleanupExpired(ctx, time.Minute)

	return mc
}

// Get retrieves a value from the cache
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullKey := m.config.Prefix + key

	m.mu.RLock()
	item, ok := m.items[fullKey]
	m.mu.RUnlock()

	if !ok {
		return nil, &MissError{Key: key}
	}
	if item.expired(m.now()) {
		m.mu.Lock()
		delete(m.items, fullKey)
		m.mu.Unlock()
		return nil, &MissError{Key: key}
	}

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, nil
}

// Set stores a value in the cache with a TTL. A zero TTL uses the default;
// a negative TTL never expires.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	item := cacheItem{value: make([]byte, len(value))}
	copy(item.value, value)
	if ttl > 0 {
		item.expiration = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.items[m.config.Prefix+key] = item
	m.mu.Unlock()
	return nil
}

// Delete removes a value from the cache
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.items, m.config.Prefix+key)
	m.mu.Unlock()
	return nil
}

// Clear removes all values from the cache
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.items = make(map[string]cacheItem)
	m.mu.Unlock()
	return nil
}

// ClearPrefix removes all values whose key starts with prefix
func (m *MemoryCache) ClearPrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full := m.config.Prefix + prefix

	m.mu.Lock()
	for key := range m.items {
		if strings.HasPrefix(key, full) {
			delete(m.items, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// Exists checks if a live key exists in the cache
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	item, ok := m.items[m.config.Prefix+key]
	m.mu.RUnlock()

	return ok && !item.expired(m.now()), nil
}

// Len returns the number of stored items, including expired ones not yet collected
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Close stops the background cleanup goroutine
func (m *MemoryCache) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

func (m *MemoryCache) cleanupExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.removeExpired()
		}
	}
}

func (m *MemoryCache) removeExpired() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, item := range m.items {
		if item.expired(now) {
			delete(m.items, key)
		}
	}
}
