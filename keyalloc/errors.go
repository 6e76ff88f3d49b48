package keyalloc

import (
	"errors"
	"fmt"
)

// ErrKeyGeneration is matched by every KeyGenerationError
var ErrKeyGeneration = errors.New("unable to generate primary key")

// KeyGenerationError reports a failed or invalid key range reservation.
// It is not retried by the allocator; the caller's transaction should be
// rolled back.
type KeyGenerationError struct {
	Value int64 // value returned by the sequence, if any
	Err   error // round trip failure, nil when the value itself was invalid
}

func (e *KeyGenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", ErrKeyGeneration, e.Err)
	}
	return fmt.Sprintf("%v: sequence returned %d", ErrKeyGeneration, e.Value)
}

func (e *KeyGenerationError) Unwrap() error { return e.Err }

func (e *KeyGenerationError) Is(target error) bool { return target == ErrKeyGeneration }
