package writebatch

import (
	"context"
	"database/sql"

	"github.com/mevdschee/stockbatch/parser"
)

// Per-row result codes besides a plain rows-affected count
const (
	// SuccessNoInfo marks a row that executed but whose driver cannot report rows affected
	SuccessNoInfo int64 = -2
	// ExecuteFailed marks a row that failed or was not attempted after an earlier failure
	ExecuteFailed int64 = -3
)

// DefaultThreshold is the pending row count that makes a handle eligible for auto flush
const DefaultThreshold = 2000

// Preparer compiles statements on the session's connection. *sql.Tx,
// *sql.Conn and *sql.DB all satisfy it.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// FailureDetector reports whether executed batch results contain a failure
type FailureDetector func(results []int64) bool

// ContainsExecuteFailed is the default FailureDetector
func ContainsExecuteFailed(results []int64) bool {
	for _, r := range results {
		if r == ExecuteFailed {
			return true
		}
	}
	return false
}

// Config holds configuration for the batch manager
type Config struct {
	Threshold                int             // Pending rows that trigger an auto flush (2000 default, <= 0 means 1)
	AutoTrigger              bool            // Flush from Append once the threshold is reached
	CheckAutoTriggerFailures bool            // Fail Append when an auto flush reports a failed row
	FailureDetector          FailureDetector // Failure predicate for results (ContainsExecuteFailed default)
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Threshold:                DefaultThreshold,
		AutoTrigger:              true,
		CheckAutoTriggerFailures: true,
		FailureDetector:          ContainsExecuteFailed,
	}
}

// ParamType overrides how a positional value is bound
type ParamType int

const (
	TypeDefault ParamType = iota // bind the value as given
	TypeInt64
	TypeFloat64
	TypeString
	TypeBool
	TypeTime
	TypeBytes
	TypeNull // bind SQL NULL regardless of the value
)

// State is the flush state of a handle
type State int

const (
	StateIdle         State = iota // no pending rows
	StateAccumulating              // pending rows below the threshold
	StateReadyToFlush              // pending rows at or above the threshold
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateReadyToFlush:
		return "ready"
	default:
		return "unknown"
	}
}

// handle is one registered statement and its pending batch
type handle struct {
	name     string
	priority int
	stmt     *sql.Stmt
	template *parser.ParsedTemplate
	pending  [][]any
}
