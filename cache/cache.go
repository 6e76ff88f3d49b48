// Package cache holds the in-memory caches used by the reporting side: the
// read-through lookup snapshots and the short-lived totals cache.
package cache

import (
	"time"

	"github.com/maypok86/otter"
)

// TTL wraps an Otter cache of values that expire individually
type TTL[V any] struct {
	store otter.CacheWithVariableTTL[string, V]
}

// NewTTL creates a new cache with the specified max size
func NewTTL[V any](maxSize int) (*TTL[V], error) {
	store, err := otter.MustBuilder[string, V](maxSize).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, err
	}
	return &TTL[V]{store: store}, nil
}

// Get retrieves a cached value by key
func (c *TTL[V]) Get(key string) (V, bool) {
	return c.store.Get(key)
}

// Set stores a value with the specified TTL
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	c.store.Set(key, value, ttl)
}

// GetOrLoad returns the cached value of key, calling load and caching its
// result for ttl on a miss. Load errors are returned and not cached.
func (c *TTL[V]) GetOrLoad(key string, ttl time.Duration, load func() (V, error)) (V, error) {
	if v, ok := c.store.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.store.Set(key, v, ttl)
	return v, nil
}

// Delete removes an entry from the cache
func (c *TTL[V]) Delete(key string) {
	c.store.Delete(key)
}

// Clear removes every entry
func (c *TTL[V]) Clear() {
	c.store.Clear()
}

// Close releases the cache's background resources
func (c *TTL[V]) Close() {
	c.store.Close()
}
