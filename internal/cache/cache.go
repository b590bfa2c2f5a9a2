// Package cache provides the hot cache: an advisory, TTL-bearing mirror of
// non-terminal swaps and recent chain events, backed by a bounded LRU so a
// hot but long-running relayer cannot grow the in-process mirror unbounded.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a key-value store with per-key TTL. A miss or stale entry must
// degrade to the authoritative repository read without changing outcomes —
// callers never treat a cache result as more authoritative than storage.
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry
	lru   *lru.Cache[string, struct{}] // bounds the item map by eviction order
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Config configures cache capacity.
type Config struct {
	Capacity int
}

// New creates a cache bounded to cfg.Capacity keys (default 4096).
func New(cfg Config) *Cache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 4096
	}

	c := &Cache{
		items: make(map[string]entry, capacity),
	}

	evictList, _ := lru.NewWithEvict(capacity, func(key string, _ struct{}) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
	})
	c.lru = evictList

	return c
}

// Set stores value (JSON-encoded) under key with the given TTL. ttl <= 0
// means the entry never expires on its own (it can still be evicted under
// capacity pressure).
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.items[key] = entry{value: data, expiresAt: expiresAt}
	c.mu.Unlock()

	c.lru.Add(key, struct{}{})
	return nil
}

// Get decodes the cached value for key into out. Returns found=false on
// miss or expiry; expired entries are lazily removed.
func (c *Cache) Get(key string, out interface{}) (found bool, err error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.Delete(key)
		return false, nil
	}

	if err := json.Unmarshal(e.value, out); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	c.lru.Remove(key)
}

// Len reports the number of live entries (including not-yet-reaped expired
// ones), mostly for tests and health reporting.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Sweep removes all expired entries; intended to run off a ticker so
// expired-but-unread keys don't linger until their next Get.
func (c *Cache) Sweep() {
	now := time.Now()

	c.mu.RLock()
	expired := make([]string, 0)
	for k, e := range c.items {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			expired = append(expired, k)
		}
	}
	c.mu.RUnlock()

	for _, k := range expired {
		c.Delete(k)
	}
}
