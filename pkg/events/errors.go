package events

import (
	"errors"
	"fmt"
)

// ErrDecode marks a log that does not match the TokenCreated shape.
var ErrDecode = errors.New("decode failed")

// DecodeError describes why a log could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrDecode, e.Reason)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is reports ErrDecode for every DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}
