package persistence

import "errors"

var (
	// ErrFind is returned when a finder query fails
	ErrFind = errors.New("find failed")

	// ErrKeyColumn is returned when a key column is unknown or holds NULL
	ErrKeyColumn = errors.New("invalid key column")

	// ErrStatement is returned when a bulk statement fails
	ErrStatement = errors.New("statement failed")
)
