package replica

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// member is one read replica
type member struct {
	name string
	db   *sqlx.DB
}

// Pool manages a primary database and multiple read replicas
type Pool struct {
	primary  *sqlx.DB
	replicas []member
	healthy  map[string]bool
	current  int // round-robin index
	mu       sync.RWMutex
}

// Open connects to the primary and every replica DSN with the same driver
func Open(driver, primary string, replicas []string) (*Pool, error) {
	db, err := sqlx.Open(driver, primary)
	if err != nil {
		return nil, fmt.Errorf("open primary: %w", err)
	}

	var dbs []*sqlx.DB
	for i, dsn := range replicas {
		r, err := sqlx.Open(driver, dsn)
		if err != nil {
			db.Close()
			for _, opened := range dbs {
				opened.Close()
			}
			return nil, fmt.Errorf("open replica%d: %w", i+1, err)
		}
		dbs = append(dbs, r)
	}
	return NewPool(db, dbs...), nil
}

// NewPool creates a new replica pool. Replicas are named replica1, replica2
// and so on in the order given.
func NewPool(primary *sqlx.DB, replicas ...*sqlx.DB) *Pool {
	p := &Pool{
		primary: primary,
		healthy: make(map[string]bool),
	}

	// Initially mark all replicas as healthy
	for i, db := range replicas {
		name := fmt.Sprintf("replica%d", i+1)
		p.replicas = append(p.replicas, member{name: name, db: db})
		p.healthy[name] = true
	}

	return p
}

// GetPrimary returns the primary database, used for every write
func (p *Pool) GetPrimary() *sqlx.DB {
	return p.primary
}

// DriverName returns the driver shared by all members
func (p *Pool) DriverName() string {
	return p.primary.DriverName()
}

// GetReplica returns the next healthy replica using round-robin,
// or the primary if no replicas are healthy. It returns (db, name).
func (p *Pool) GetReplica() (*sqlx.DB, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.replicas) == 0 {
		return p.primary, "primary"
	}

	// Try to find a healthy replica
	for attempts := 0; attempts < len(p.replicas); attempts++ {
		r := p.replicas[p.current]
		p.current = (p.current + 1) % len(p.replicas)

		if p.healthy[r.name] {
			return r.db, r.name
		}
	}

	// No healthy replicas, fall back to primary
	log.Printf("[Replica] No healthy replicas available, using primary")
	return p.primary, "primary"
}

// MarkUnhealthy marks a replica as unhealthy
func (p *Pool) MarkUnhealthy(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.healthy[name]; exists {
		p.healthy[name] = false
		log.Printf("[Replica] Marked %s as unhealthy", name)
	}
}

// MarkHealthy marks a replica as healthy
func (p *Pool) MarkHealthy(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.healthy[name]; exists {
		wasUnhealthy := !p.healthy[name]
		p.healthy[name] = true
		if wasUnhealthy {
			log.Printf("[Replica] Marked %s as healthy", name)
		}
	}
}

// IsHealthy returns whether a replica is healthy
func (p *Pool) IsHealthy(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy[name]
}

// GetHealthyCount returns the number of healthy replicas
func (p *Pool) GetHealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, healthy := range p.healthy {
		if healthy {
			count++
		}
	}
	return count
}

// Status returns the health of every replica by name
func (p *Pool) Status() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]bool, len(p.healthy))
	for name, healthy := range p.healthy {
		out[name] = healthy
	}
	return out
}

// StartHealthChecks begins periodic health checks for all replicas
func (p *Pool) StartHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial health check immediately
	p.checkAllReplicas(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAllReplicas(ctx)
		}
	}
}

func (p *Pool) checkAllReplicas(ctx context.Context) {
	for _, r := range p.replicas {
		go p.checkReplica(ctx, r)
	}
}

func (p *Pool) checkReplica(ctx context.Context, r member) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		p.MarkUnhealthy(r.name)
		return
	}
	p.MarkHealthy(r.name)
}

// PingPrimary checks that the primary accepts connections
func (p *Pool) PingPrimary(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.primary.PingContext(ctx)
}

// Close closes the primary and every replica
func (p *Pool) Close() error {
	errs := []error{p.primary.Close()}
	for _, r := range p.replicas {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}
