package errors

import (
	"errors"
	"fmt"
)

// Delivery failure taxonomy for the notification dispatch engine.
//
// A delivery error falls into one of three buckets:
//
//   - transport errors: the channel could not be reached (SMTP refused,
//     recipient offline). Retryable up to the job's attempt ceiling.
//   - terminal errors: retrying can never help (preference suppressed the
//     channel, no handler registered). The job fails immediately.
//   - transient store errors: the job store itself is unreachable. The
//     worker backs off and retries the whole cycle.
var (
	// ErrOffline signals the in-app recipient has no live connection.
	ErrOffline = errors.New("offline")

	// ErrSuppressed signals the recipient disabled the channel after the
	// job was enqueued. Always terminal.
	ErrSuppressed = errors.New("suppressed")
)

// TransportError wraps a channel-level send failure. Retryable.
type TransportError struct {
	Channel string
	Err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Channel, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a retryable transport failure for a channel.
func Transport(channel string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Channel: channel, Err: err}
}

// IsTransport reports whether err is a transport-level delivery failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// terminalError marks an error that must not be retried.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as non-retryable: the job fails on this attempt
// regardless of how many attempts remain.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err must not be retried.
// ErrSuppressed is terminal by definition.
func IsTerminal(err error) bool {
	if errors.Is(err, ErrSuppressed) {
		return true
	}
	var te *terminalError
	return errors.As(err, &te)
}

// StoreError wraps a job-store failure the worker should treat as
// transient: back off and retry the cycle instead of crashing.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// Store wraps err as a transient store failure for operation op.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsTransientStore reports whether err is a transient store failure.
func IsTransientStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
