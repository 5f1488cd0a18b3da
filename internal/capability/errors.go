package capability

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by a Remover after Close.
var ErrClosed = errors.New("background removal is shut down")

// TransportError is returned when the capability could not be reached.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("background removal unreachable: %v", e.Err)
	}
	return fmt.Sprintf("background removal unreachable (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProcessingFailedError is returned when the capability ran but reported a
// failure, timed out, or answered with data that could not be used. Message
// is what the user sees.
type ProcessingFailedError struct {
	Message string
	Err     error
}

func (e *ProcessingFailedError) Error() string {
	return e.Message
}

func (e *ProcessingFailedError) Unwrap() error {
	return e.Err
}

// Transport builds a TransportError.
func Transport(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// Failed builds a ProcessingFailedError without an underlying cause.
func Failed(format string, args ...any) *ProcessingFailedError {
	return &ProcessingFailedError{Message: fmt.Sprintf(format, args...)}
}

// IsTransportError checks if an error is a TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsProcessingFailed checks if an error is a ProcessingFailedError.
func IsProcessingFailed(err error) bool {
	var target *ProcessingFailedError
	return errors.As(err, &target)
}

// Classify normalises any error into the adapter taxonomy. Deadline expiry is
// a processing failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var transport *TransportError
	var failed *ProcessingFailedError
	switch {
	case errors.As(err, &transport), errors.As(err, &failed):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &ProcessingFailedError{Message: "background removal timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &ProcessingFailedError{Message: "background removal was cancelled", Err: err}
	default:
		return &ProcessingFailedError{Message: err.Error(), Err: err}
	}
}

// Outcome labels an error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsTransportError(err):
		return "transport_error"
	default:
		return "processing_failed"
	}
}
