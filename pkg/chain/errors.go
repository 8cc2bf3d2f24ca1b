package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
)

// Sentinel errors for the chain package.
var (
	// ErrConnection marks failures where the node could not be reached or did not answer.
	ErrConnection = errors.New("rpc connection failed")

	// ErrRequest marks requests the node answered with a rejection.
	ErrRequest = errors.New("rpc request rejected")

	// ErrClosed is returned once the client has been closed.
	ErrClosed = errors.New("client closed")
)

// Error wraps an RPC failure with the operation and its kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the target error matches the kind or the cause.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target) || errors.Is(e.Err, target)
}

// IsConnectionError reports whether err is a connection-class failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsRequestError reports whether err is a request rejected by the node.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrRequest)
}

// classify turns a raw backend error into an *Error.
// JSON-RPC error objects and HTTP 4xx responses (except 429) are requests the
// node rejected; everything else, timeouts included, is a connection failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var chainErr *Error
	if errors.As(err, &chainErr) {
		return err
	}

	kind := ErrConnection

	var rpcErr rpc.Error
	var httpErr rpc.HTTPError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.As(err, &rpcErr):
		kind = ErrRequest
	case errors.As(err, &httpErr):
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
			kind = ErrRequest
		}
	}

	return &Error{Op: op, Kind: kind, Err: err}
}
