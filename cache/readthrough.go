package cache

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mevdschee/stockbatch/metrics"
)

// Finder builds a complete snapshot using q
type Finder[K comparable, V any] func(ctx context.Context, q sqlx.QueryerContext) (*orderedmap.OrderedMap[K, V], error)

// Opener acquires a short-lived connection for a reload that was not given one
type Opener func(ctx context.Context) (*sqlx.Conn, error)

// ReadThrough is an ordered snapshot of a rarely changing lookup table. A
// snapshot is replaced as a whole and must not be modified by readers.
type ReadThrough[K comparable, V any] struct {
	name string
	open Opener
	find Finder[K, V]

	snapshot  atomic.Pointer[orderedmap.OrderedMap[K, V]]
	attempted atomic.Bool
	initial   singleflight.Group

	mu         sync.Mutex // guards lastErr and lastReload
	lastErr    error
	lastReload time.Time
}

// NewReadThrough creates an empty cache; nothing is loaded until the first
// Get or Reload.
func NewReadThrough[K comparable, V any](name string, open Opener, find Finder[K, V]) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{
		name: name,
		open: open,
		find: find,
	}
}

// Name returns the name used in logs and metrics
func (c *ReadThrough[K, V]) Name() string {
	return c.name
}

// Reload rebuilds the snapshot using q, or a connection of its own when q
// is nil. A failed reload is logged and keeps the previous snapshot.
func (c *ReadThrough[K, V]) Reload(ctx context.Context, q sqlx.QueryerContext) {
	c.attempted.Store(true)

	snap, err := c.load(ctx, q)

	c.mu.Lock()
	c.lastReload = time.Now()
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		log.Printf("[Cache] Reload of %s failed, keeping previous snapshot: %v", c.name, err)
		metrics.CacheReloads.WithLabelValues(c.name, "error").Inc()
		return
	}

	c.snapshot.Store(snap)
	metrics.CacheReloads.WithLabelValues(c.name, "ok").Inc()
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(snap.Len()))
}

func (c *ReadThrough[K, V]) load(ctx context.Context, q sqlx.QueryerContext) (*orderedmap.OrderedMap[K, V], error) {
	if q == nil {
		conn, err := c.open(ctx)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := conn.Close(); err != nil {
				log.Printf("[Cache] Failed to release connection for %s: %v", c.name, err)
			}
		}()
		q = conn
	}

	snap, err := c.find(ctx, q)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap = orderedmap.New[K, V]()
	}
	return snap, nil
}

// Get returns the current snapshot, loading it first if no reload was ever
// attempted. It returns nil while the table is unavailable.
func (c *ReadThrough[K, V]) Get(ctx context.Context) *orderedmap.OrderedMap[K, V] {
	if !c.attempted.Load() {
		c.initial.Do("load", func() (any, error) {
			if !c.attempted.Load() {
				c.Reload(ctx, nil)
			}
			return nil, nil
		})
	}
	return c.snapshot.Load()
}

// Lookup returns the value of key in the current snapshot
func (c *ReadThrough[K, V]) Lookup(ctx context.Context, key K) (V, bool) {
	snap := c.Get(ctx)
	if snap == nil {
		var zero V
		return zero, false
	}
	return snap.Get(key)
}

// LastError returns the error of the most recent reload, nil if it succeeded
func (c *ReadThrough[K, V]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Status describes a cache for the operational endpoints
type Status struct {
	Name       string    `json:"name"`
	Loaded     bool      `json:"loaded"`
	Entries    int       `json:"entries"`
	LastReload time.Time `json:"last_reload"`
	LastError  string    `json:"last_error,omitempty"`
}

// Status reports the current state without triggering a load
func (c *ReadThrough[K, V]) Status() Status {
	s := Status{Name: c.name}
	if snap := c.snapshot.Load(); snap != nil {
		s.Loaded = true
		s.Entries = snap.Len()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s.LastReload = c.lastReload
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}
