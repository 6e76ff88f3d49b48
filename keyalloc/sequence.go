package keyalloc

import (
	"context"
	"database/sql"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Common sequence queries per driver
const (
	PostgresSequenceQuery = "SELECT nextval('pkgenerator')"
	OracleSequenceQuery   = "SELECT pkgenerator.nextval FROM DUAL"
	// SQLiteSequenceQuery advances a one-row counter table by the default increment
	SQLiteSequenceQuery = "UPDATE pkgenerator SET v = v + 1000 RETURNING v"
)

// QueryRower is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLSequence reserves bases from a database sequence with a single query.
// Against a *sql.DB the query runs on a pooled connection that is released
// as soon as the row is scanned.
type SQLSequence struct {
	db    QueryRower
	query string
}

// NewSQLSequence creates a sequence that runs query to obtain a base
func NewSQLSequence(db QueryRower, query string) *SQLSequence {
	if query == "" {
		query = PostgresSequenceQuery
	}
	return &SQLSequence{db: db, query: query}
}

// On returns a sequence running the same query on db, e.g. a transaction
// that already holds the database's write lock.
func (s *SQLSequence) On(db QueryRower) *SQLSequence {
	return &SQLSequence{db: db, query: s.query}
}

// NextBase implements Sequence
func (s *SQLSequence) NextBase(ctx context.Context) (int64, error) {
	var base sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.query).Scan(&base); err != nil {
		return 0, err
	}
	if !base.Valid {
		return -1, nil
	}
	return base.Int64, nil
}

// IncrByer is the part of a go-redis client the redis sequence needs
type IncrByer interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
}

// RedisSequence reserves bases with INCRBY on a shared counter. The
// returned base is the start of the reserved window.
type RedisSequence struct {
	client    IncrByer
	key       string
	increment int64
}

// NewRedisSequence creates a sequence stepping key by increment
func NewRedisSequence(client IncrByer, key string, increment int64) *RedisSequence {
	if key == "" {
		key = "stockbatch:pkgenerator"
	}
	if increment <= 0 {
		increment = DefaultIncrement
	}
	return &RedisSequence{client: client, key: key, increment: increment}
}

// NewRedisClient connects a go-redis client for use with NewRedisSequence
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NextBase implements Sequence
func (s *RedisSequence) NextBase(ctx context.Context) (int64, error) {
	end, err := s.client.IncrBy(ctx, s.key, s.increment).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return -1, nil
		}
		return 0, err
	}
	return end - s.increment, nil
}
