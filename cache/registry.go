package cache

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Reloadable is a lookup cache that can be refreshed after an upload
type Reloadable interface {
	Name() string
	Reload(ctx context.Context, q sqlx.QueryerContext)
	Status() Status
}

// Registry tracks the lookup caches of a process
type Registry struct {
	mu     sync.RWMutex
	caches []Reloadable
}

// Add registers c; caches are reloaded in the order they were added
func (r *Registry) Add(c Reloadable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches = append(r.caches, c)
}

// ReloadAll reloads every registered cache using q, or their own
// connections when q is nil.
func (r *Registry) ReloadAll(ctx context.Context, q sqlx.QueryerContext) {
	r.mu.RLock()
	caches := append([]Reloadable(nil), r.caches...)
	r.mu.RUnlock()

	for _, c := range caches {
		c.Reload(ctx, q)
	}
}

// Statuses returns the status of every registered cache
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.caches))
	for _, c := range r.caches {
		out = append(out, c.Status())
	}
	return out
}
