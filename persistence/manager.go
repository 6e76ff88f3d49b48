// Package persistence is the session object shared by everything that needs
// a connection or a primary key: one Manager per process, passed explicitly.
package persistence

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mevdschee/stockbatch/cache"
	"github.com/mevdschee/stockbatch/keyalloc"
	"github.com/mevdschee/stockbatch/metrics"
	"github.com/mevdschee/stockbatch/replica"
)

// DefaultTotalsTTL is how long an active row count is served from memory
const DefaultTotalsTTL = 5 * time.Minute

// Querier runs statements on a database, a connection or a transaction.
// *sqlx.DB, *sqlx.Conn and *sqlx.Tx all satisfy it.
type Querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Manager hands out connections and keys and runs the finder and bulk
// statements shared by uploads and reports.
type Manager struct {
	pool      *replica.Pool
	keys      *keyalloc.Allocator
	bindType  int
	totals    *cache.TTL[int64]
	totalsTTL time.Duration
}

// New creates a manager over pool issuing keys from keys. A totalsTTL <= 0
// uses DefaultTotalsTTL.
func New(pool *replica.Pool, keys *keyalloc.Allocator, totalsTTL time.Duration) (*Manager, error) {
	if totalsTTL <= 0 {
		totalsTTL = DefaultTotalsTTL
	}
	totals, err := cache.NewTTL[int64](1000)
	if err != nil {
		return nil, fmt.Errorf("totals cache: %w", err)
	}
	return &Manager{
		pool:      pool,
		keys:      keys,
		bindType:  sqlx.BindType(pool.DriverName()),
		totals:    totals,
		totalsTTL: totalsTTL,
	}, nil
}

// Pool returns the database pool
func (m *Manager) Pool() *replica.Pool {
	return m.pool
}

// Close releases the totals cache. The pool is owned by the caller.
func (m *Manager) Close() {
	m.totals.Close()
}

// Rebind converts a template written with ? placeholders to the driver's
// placeholder style.
func (m *Manager) Rebind(query string) string {
	return sqlx.Rebind(m.bindType, query)
}

// AllocateKey issues the next globally unique primary key
func (m *Manager) AllocateKey(ctx context.Context) (int64, error) {
	return m.keys.Allocate(ctx)
}

// KeysFor returns the allocator a writer holding tx must draw keys from.
// SQLite admits one writer at a time, so there a SQL sequence runs on tx
// itself with a range of its own; rolling tx back also returns the range.
// Other databases share the process wide allocator.
func (m *Manager) KeysFor(tx *sqlx.Tx) *keyalloc.Allocator {
	if m.pool.DriverName() != "sqlite3" {
		return m.keys
	}
	seq, ok := m.keys.Sequence().(*keyalloc.SQLSequence)
	if !ok {
		return m.keys
	}
	return keyalloc.New(seq.On(tx), m.keys.Increment())
}

// Conn acquires a short-lived connection to a read replica, or to the
// primary when no replica is healthy. The caller must close it.
func (m *Manager) Conn(ctx context.Context) (*sqlx.Conn, error) {
	db, backend := m.pool.GetReplica()
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", backend, err)
	}
	metrics.DatabaseQueries.WithLabelValues(backend).Inc()
	return conn, nil
}

// WithConn runs fn with q, or with a connection of its own when q is nil.
// An acquired connection is released on every path; release errors are
// logged.
func (m *Manager) WithConn(ctx context.Context, q Querier, fn func(Querier) error) error {
	if q != nil {
		return fn(q)
	}
	conn, err := m.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("[Persistence] Failed to release connection: %v", err)
		}
	}()
	return fn(conn)
}

// BulkUpdate runs UPDATE table SET values [WHERE conditions] and returns
// the number of rows changed.
func (m *Manager) BulkUpdate(ctx context.Context, q Querier, table, values, conditions string, args ...any) (int64, error) {
	query := "UPDATE " + table + " SET " + values + where(conditions)
	return m.exec(ctx, q, query, args)
}

// BulkDelete runs DELETE FROM table [WHERE conditions] and returns the
// number of rows removed.
func (m *Manager) BulkDelete(ctx context.Context, q Querier, table, conditions string, args ...any) (int64, error) {
	query := "DELETE FROM " + table + where(conditions)
	return m.exec(ctx, q, query, args)
}

func (m *Manager) exec(ctx context.Context, q Querier, query string, args []any) (int64, error) {
	query = m.Rebind(query)
	var affected int64
	err := m.WithConn(ctx, q, func(q Querier) error {
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		log.Printf("[Persistence] Unable to execute %s: %v", query, err)
		return 0, fmt.Errorf("%w: %w", ErrStatement, err)
	}
	return affected, nil
}

// CountActive returns the number of rows of table not flagged as ignored.
// Counts are cached until InvalidateTotals or the totals TTL expires.
func (m *Manager) CountActive(ctx context.Context, q Querier, table string) (int64, error) {
	return m.totals.GetOrLoad(table, m.totalsTTL, func() (int64, error) {
		var total int64
		query := "SELECT COUNT(*) FROM " + table + " WHERE metaflags & 1 = 0"
		err := m.WithConn(ctx, q, func(q Querier) error {
			return q.QueryRowxContext(ctx, query).Scan(&total)
		})
		if err != nil {
			return 0, fmt.Errorf("%w: count %s: %w", ErrFind, table, err)
		}
		return total, nil
	})
}

// InvalidateTotals drops the cached counts of tables, or of every table
// when none is given.
func (m *Manager) InvalidateTotals(tables ...string) {
	if len(tables) == 0 {
		m.totals.Clear()
		return
	}
	for _, t := range tables {
		m.totals.Delete(t)
	}
}

func where(conditions string) string {
	conditions = strings.TrimSpace(conditions)
	if conditions == "" {
		return ""
	}
	return " WHERE " + conditions
}
