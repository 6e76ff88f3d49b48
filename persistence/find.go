package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cast"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/mevdschee/stockbatch/cache"
	"github.com/mevdschee/stockbatch/entity"
)

// KeySeparator joins the values of composite keys
const KeySeparator = "|"

// Row is one result row by column name, in select order. NULL columns are
// left out.
type Row = *orderedmap.OrderedMap[string, any]

// FindEntities loads every row of the table of newE matching conditions,
// built by newE and keyed by keyColumns joined with KeySeparator, or by
// UniqueKey when no key column is given. The result is in query order and
// never nil.
func FindEntities[E entity.Entity](ctx context.Context, m *Manager, q Querier, newE func() E,
	conditions, orderBy string, keyColumns ...string) (*orderedmap.OrderedMap[string, E], error) {

	proto := newE()
	cols := proto.Columns()
	positions, err := keyPositions(cols, keyColumns)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + proto.Table() + where(conditions)
	if orderBy = strings.TrimSpace(orderBy); orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	query = m.Rebind(query)

	results := orderedmap.New[string, E]()
	err = m.WithConn(ctx, q, func(q Querier) error {
		rows, err := q.QueryxContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e := newE()
			if err := rows.StructScan(e); err != nil {
				return err
			}
			key := e.UniqueKey()
			if positions != nil {
				if key, err = joinKey(e.Values(), positions, keyColumns); err != nil {
					return err
				}
			}
			results.Set(key, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFind, query, err)
	}
	return results, nil
}

// FindRows runs query and returns its rows keyed by keyColumns joined with
// KeySeparator, or by row number when no key column is given. The result is
// in query order and never nil.
func (m *Manager) FindRows(ctx context.Context, q Querier, query string, keyColumns []string, args ...any) (*orderedmap.OrderedMap[string, Row], error) {
	for _, c := range keyColumns {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("%w: empty key column", ErrKeyColumn)
		}
	}
	query = m.Rebind(query)

	results := orderedmap.New[string, Row]()
	err := m.WithConn(ctx, q, func(q Querier) error {
		rows, err := q.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		counter := 0
		for rows.Next() {
			values, err := rows.SliceScan()
			if err != nil {
				return err
			}
			row := orderedmap.New[string, any](len(cols))
			for i, v := range values {
				if v == nil {
					continue
				}
				// Text columns arrive as bytes from some drivers
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				row.Set(cols[i], v)
			}

			key := strconv.Itoa(counter)
			counter++
			if len(keyColumns) > 0 {
				parts := make([]string, len(keyColumns))
				for i, c := range keyColumns {
					v, ok := row.Get(c)
					if !ok {
						return fmt.Errorf("%w: %s is null or missing", ErrKeyColumn, c)
					}
					if parts[i], err = cast.ToStringE(v); err != nil {
						return fmt.Errorf("%w: %s: %w", ErrKeyColumn, c, err)
					}
				}
				key = strings.Join(parts, KeySeparator)
			}
			results.Set(key, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFind, query, err)
	}
	return results, nil
}

// keyPositions maps key column names to their index in cols. It returns
// nil when no key column is given.
func keyPositions(cols, keyColumns []string) ([]int, error) {
	if len(keyColumns) == 0 {
		return nil, nil
	}
	positions := make([]int, len(keyColumns))
	for i, k := range keyColumns {
		positions[i] = -1
		for j, c := range cols {
			if c == k {
				positions[i] = j
				break
			}
		}
		if positions[i] < 0 {
			return nil, fmt.Errorf("%w: %q", ErrKeyColumn, k)
		}
	}
	return positions, nil
}

func joinKey(values []any, positions []int, keyColumns []string) (string, error) {
	parts := make([]string, len(positions))
	for i, p := range positions {
		if values[p] == nil {
			return "", fmt.Errorf("%w: %s is null", ErrKeyColumn, keyColumns[i])
		}
		s, err := cast.ToStringE(values[p])
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrKeyColumn, keyColumns[i], err)
		}
		parts[i] = s
	}
	return strings.Join(parts, KeySeparator), nil
}

// EntityCache returns a lookup cache over FindEntities that reloads on a
// reader connection of its own when none is supplied.
func EntityCache[E entity.Entity](m *Manager, name string, newE func() E,
	conditions, orderBy string, keyColumns ...string) *cache.ReadThrough[string, E] {

	find := func(ctx context.Context, q sqlx.QueryerContext) (*orderedmap.OrderedMap[string, E], error) {
		querier, ok := q.(Querier)
		if !ok {
			return nil, fmt.Errorf("%w: %T cannot execute statements", ErrFind, q)
		}
		return FindEntities(ctx, m, querier, newE, conditions, orderBy, keyColumns...)
	}
	return cache.NewReadThrough(name, m.Conn, find)
}
