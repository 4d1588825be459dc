package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrRetryable marks contention failures the caller should retry whole.
	ErrRetryable = errors.New("operation timed out, retry")
)
