package writebatch

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
)

// bindRow validates values against the template of h and applies the
// optional per-position type overrides.
func bindRow(h *handle, values []any, types []ParamType) ([]any, error) {
	if len(values) != h.template.Placeholders {
		return nil, fmt.Errorf("%w: %q expects %d values, got %d",
			ErrBinding, h.name, h.template.Placeholders, len(values))
	}
	if len(types) > 0 && len(types) != len(values) {
		return nil, fmt.Errorf("%w: %q got %d types for %d values",
			ErrBinding, h.name, len(types), len(values))
	}

	row := make([]any, len(values))
	for i, v := range values {
		if len(types) == 0 {
			row[i] = v
			continue
		}
		bound, err := coerce(v, types[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %q position %d: %v", ErrBinding, h.name, i+1, err)
		}
		row[i] = bound
	}
	return row, nil
}

func coerce(v any, t ParamType) (any, error) {
	switch t {
	case TypeDefault:
		return v, nil
	case TypeNull:
		return nil, nil
	}
	if v == nil {
		return nil, nil
	}

	switch t {
	case TypeInt64:
		return cast.ToInt64E(v)
	case TypeFloat64:
		return cast.ToFloat64E(v)
	case TypeString:
		return cast.ToStringE(v)
	case TypeBool:
		return cast.ToBoolE(v)
	case TypeTime:
		return cast.ToTimeE(v)
	case TypeBytes:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("unknown parameter type %d", t)
	}
}

// RowBuilder assembles one row position by position and appends it to a
// handle. Entities use it to bind their own columns after the columns of
// the types they embed.
type RowBuilder struct {
	m      *Manager
	ctx    context.Context
	name   string
	values []any
	err    error // first invalid Set, reported by AddBatch
}

// Row starts a new row for name
func (m *Manager) Row(ctx context.Context, name string) (*RowBuilder, error) {
	h, ok := m.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandle, name)
	}
	return &RowBuilder{
		m:      m,
		ctx:    ctx,
		name:   name,
		values: make([]any, h.template.Placeholders),
	}, nil
}

// Set binds v at the zero-based position pos. A negative pos makes the
// next AddBatch fail.
func (b *RowBuilder) Set(pos int, v any) {
	if pos < 0 {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %q position %d", ErrBinding, b.name, pos)
		}
		return
	}
	for pos >= len(b.values) {
		b.values = append(b.values, nil)
	}
	b.values[pos] = v
}

// AddBatch appends the row built so far and starts a new empty one. A row
// with an invalid position is discarded, not appended.
func (b *RowBuilder) AddBatch() error {
	values, err := b.values, b.err
	b.values = make([]any, len(values))
	b.err = nil
	if err != nil {
		return err
	}
	return b.m.Append(b.ctx, b.name, values)
}
