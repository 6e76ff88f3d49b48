package keyalloc

import (
	"context"
	"log"
	"sync"

	"github.com/mevdschee/stockbatch/metrics"
)

// DefaultIncrement matches the step of the schema's key generating sequence
const DefaultIncrement = 1000

// Sequence reserves a new base key. Consecutive bases must be at least one
// increment apart.
type Sequence interface {
	NextBase(ctx context.Context) (int64, error)
}

// Allocator issues globally unique primary keys from ranges reserved one
// increment at a time. A single instance is meant to be shared by every
// writer of a database.
type Allocator struct {
	mu         sync.Mutex
	seq        Sequence
	increment  int64
	lastIssued int64 // base of the held range
	cursor     int64 // last key handed out, -1 when no range is held
}

// New creates an allocator over seq. An increment <= 0 uses DefaultIncrement.
func New(seq Sequence, increment int64) *Allocator {
	if increment <= 0 {
		increment = DefaultIncrement
	}
	return &Allocator{
		seq:        seq,
		increment:  increment,
		lastIssued: -1,
		cursor:     -1,
	}
}

// Increment returns the size of a reserved range
func (a *Allocator) Increment() int64 {
	return a.increment
}

// Sequence returns the sequence ranges are reserved from
func (a *Allocator) Sequence() Sequence {
	return a.seq
}

// Allocate returns the next primary key, going to the database only when
// the held range is exhausted.
func (a *Allocator) Allocate(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cursor == -1 || a.cursor >= a.lastIssued+a.increment-1 {
		base, err := a.seq.NextBase(ctx)
		if err != nil {
			log.Printf("[Keys] Range reservation failed: %v", err)
			return 0, &KeyGenerationError{Err: err}
		}
		if base < 0 {
			log.Printf("[Keys] Sequence returned invalid base %d", base)
			return 0, &KeyGenerationError{Value: base}
		}
		metrics.KeyRefills.Inc()
		a.lastIssued = base
		a.cursor = base
		metrics.KeysIssued.Inc()
		return a.cursor, nil
	}

	a.cursor++
	metrics.KeysIssued.Inc()
	return a.cursor, nil
}

// Reset drops the held range so the next Allocate reserves a new one.
// Keys left in the dropped range are never issued.
func (a *Allocator) Reset() {
	a.mu.Lock()
	a.lastIssued = -1
	a.cursor = -1
	a.mu.Unlock()
}
