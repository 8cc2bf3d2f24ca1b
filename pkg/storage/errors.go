package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for the storage package.
var (
	// ErrPersistence marks any failure to read or write durable state.
	ErrPersistence = errors.New("persistence failed")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("storage is closed")

	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("not found")
)

// PersistenceError wraps a storage failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrPersistence, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports ErrPersistence for every PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
