// Package entity describes how persistent rows bind themselves into a
// statement batch. Every entity is a flat struct built by embedding: the
// columns of an embedded type come first and its own columns follow at the
// embedded column count offset.
package entity

import (
	"fmt"
	"strings"
)

// Kind selects the statement an entity binds for
type Kind int

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Sink receives positional values for one row. *writebatch.RowBuilder
// satisfies it.
type Sink interface {
	Set(pos int, v any)
	AddBatch() error
}

// Entity is one row of a table. Columns and Values are aligned, the primary
// key column first.
type Entity interface {
	Table() string
	Columns() []string
	Values() []any
	// UniqueKey identifies the row among the rows of one upload
	UniqueKey() string
	Key() int64
	SetKey(key int64)
}

// Bind writes the values of e into sink for the statement built by the
// matching template and appends the row when commit is set.
func Bind(e Entity, sink Sink, kind Kind, commit bool) error {
	values := e.Values()
	switch kind {
	case KindCreate:
		for i, v := range values {
			sink.Set(i, v)
		}
	case KindUpdate:
		// SET every column but the key, then WHERE primarykey = ?
		for i, v := range values[1:] {
			sink.Set(i, v)
		}
		sink.Set(len(values)-1, values[0])
	case KindDelete:
		sink.Set(0, values[0])
	default:
		return fmt.Errorf("unknown write kind %d", kind)
	}
	if commit {
		return sink.AddBatch()
	}
	return nil
}

// Template returns the parameterized statement of kind for e
func Template(e Entity, kind Kind) string {
	switch kind {
	case KindUpdate:
		return UpdateTemplate(e)
	case KindDelete:
		return DeleteTemplate(e)
	default:
		return CreateTemplate(e)
	}
}

// CreateTemplate returns e.g. INSERT INTO t (primarykey, name) VALUES (?, ?)
func CreateTemplate(e Entity) string {
	cols := e.Columns()
	return "INSERT INTO " + e.Table() +
		" (" + strings.Join(cols, ", ") + ")" +
		" VALUES (" + placeholders(len(cols)) + ")"
}

// UpdateTemplate returns e.g. UPDATE t SET name = ? WHERE primarykey = ?
func UpdateTemplate(e Entity) string {
	cols := e.Columns()
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+" = ?")
	}
	return "UPDATE " + e.Table() +
		" SET " + strings.Join(sets, ", ") +
		" WHERE " + cols[0] + " = ?"
}

// DeleteTemplate returns e.g. DELETE FROM t WHERE primarykey = ?
func DeleteTemplate(e Entity) string {
	return "DELETE FROM " + e.Table() + " WHERE " + e.Columns()[0] + " = ?"
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
