package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change is not allowed from the row's current status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidBatchSize is returned when a claim asks for zero or fewer jobs
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")

	// ErrNoHandler is returned when no handler is registered for a payload kind
	ErrNoHandler = errors.New("no handler registered for payload kind")
)

// ConnectionError means the transport to the store was lost. The operation
// did not take effect and may be retried once the store is reachable again.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransactionError means the store rejected or aborted a transaction.
// Nothing from the transaction was applied.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction error during %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// DecodeError reports payload or params bytes that do not match a known variant.
type DecodeError struct {
	Column string // "payload" or "params"
	JobID  int64  // zero when the bytes did not come from a stored row
	Tag    string // offending tag, if one could be read
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode " + e.Column
	if e.JobID != 0 {
		msg += fmt.Sprintf(" of job %d", e.JobID)
	}
	if e.Tag != "" {
		msg += fmt.Sprintf(" (tag %q)", e.Tag)
	}
	return msg + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RangeError reports a job id that cannot be narrowed into the domain identifier space.
type RangeError struct {
	JobID int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("job id %d is out of the domain identifier range", e.JobID)
}

// IsRetryable reports whether err is a transient store failure that may
// succeed on a later attempt.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var txErr *TransactionError
	return errors.As(err, &txErr)
}
