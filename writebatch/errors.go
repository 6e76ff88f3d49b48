package writebatch

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateHandle is returned when registering a name that is already registered
	ErrDuplicateHandle = errors.New("handle already registered")

	// ErrUnknownHandle is returned for operations on a name that was never registered
	ErrUnknownHandle = errors.New("handle not registered")

	// ErrInvalidPriority is returned when registering with a negative priority
	ErrInvalidPriority = errors.New("priority must be at least zero")

	// ErrInvalidTemplate is returned when a template is not a write statement
	ErrInvalidTemplate = errors.New("template is not a write statement")

	// ErrBinding is returned when values cannot be bound to a statement
	ErrBinding = errors.New("unable to bind parameters")

	// ErrBatchExecution is matched by every BatchExecutionError
	ErrBatchExecution = errors.New("batch execution failed")
)

// BatchExecutionError reports a batch whose rows did not all execute. The
// manager never rolls back; the owning job should treat this as fatal to
// its transaction.
type BatchExecutionError struct {
	Handle  string
	Index   int     // first failing row, -1 when detected from results only
	Results []int64 // per-row codes of the failing batch
	Err     error   // driver error, nil when detected from results only
}

func (e *BatchExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v for %q at row %d: %v", ErrBatchExecution, e.Handle, e.Index, e.Err)
	}
	return fmt.Sprintf("%v for %q", ErrBatchExecution, e.Handle)
}

func (e *BatchExecutionError) Unwrap() error { return e.Err }

func (e *BatchExecutionError) Is(target error) bool { return target == ErrBatchExecution }
