package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/tokenwatch/pkg/storage"
)

// ErrDelivery marks a notification that could not be delivered to one destination.
var ErrDelivery = errors.New("delivery failed")

// Deliverer sends a payload to a single destination.
type Deliverer interface {
	// Type names the delivery channel ("webhook", "slack", "log").
	Type() string
	// Deliver sends p to dest. Errors wrap ErrDelivery.
	Deliver(ctx context.Context, dest storage.Destination, p *Payload) error
}

// DeliveryError describes a failed delivery.
type DeliveryError struct {
	Destination storage.Destination
	Attempts    int
	StatusCode  int
	Err         error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%v to %s after %d attempt(s)", ErrDelivery, e.Destination, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is reports ErrDelivery for every DeliveryError.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

// RetryConfig holds retry behavior for a single delivery.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Multiplier for exponential backoff.
	Multiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// delay returns the wait before retry number attempt (1-based).
func (c RetryConfig) delay(attempt int) time.Duration {
	delay := c.InitialDelay
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// budget returns the longest a delivery may take when every attempt runs
// for attemptTimeout.
func (c RetryConfig) budget(attemptTimeout time.Duration) time.Duration {
	total := time.Duration(c.MaxRetries+1) * attemptTimeout
	for i := 1; i <= c.MaxRetries; i++ {
		total += c.delay(i)
	}
	return total
}

// attemptError is returned by one delivery attempt.
type attemptError struct {
	statusCode int
	permanent  bool
	err        error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// permanent marks a failure that another attempt cannot fix.
func permanent(statusCode int, err error) error {
	return &attemptError{statusCode: statusCode, permanent: true, err: err}
}

func transient(statusCode int, err error) error {
	return &attemptError{statusCode: statusCode, err: err}
}

// retry runs attempt until it succeeds, fails permanently, runs out of
// retries, or ctx is done.
func retry(ctx context.Context, cfg RetryConfig, dest storage.Destination, attempt func(ctx context.Context) error) error {
	var (
		lastErr    error
		statusCode int
		attempts   int
	)

	for attempts < cfg.MaxRetries+1 {
		if attempts > 0 {
			select {
			case <-ctx.Done():
				return &DeliveryError{Destination: dest, Attempts: attempts, StatusCode: statusCode, Err: ctx.Err()}
			case <-time.After(cfg.delay(attempts)):
			}
		}

		attempts++
		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}

		var ae *attemptError
		if errors.As(lastErr, &ae) {
			statusCode = ae.statusCode
			if ae.permanent {
				break
			}
		}
	}

	return &DeliveryError{Destination: dest, Attempts: attempts, StatusCode: statusCode, Err: lastErr}
}
