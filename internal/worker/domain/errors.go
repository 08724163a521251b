package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinalized is returned when claiming a job that already reached a
	// terminal state; redelivered messages for it are safe to ack
	ErrJobFinalized = errors.New("job already in a terminal state")

	// ErrMalformedMessage marks a queue message that cannot be parsed; it is
	// nacked without requeue so it can never loop
	ErrMalformedMessage = errors.New("malformed queue message")
)

// RetryableError wraps store/transport failures that must trigger broker
// redelivery. Application-level failures are terminal and are never wrapped.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err should cause a nack-with-requeue
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
