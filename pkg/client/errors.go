package client

import (
	"errors"
	"fmt"
)

// ErrBatchResponse is returned when a batch group response is not a JSON array.
var ErrBatchResponse = errors.New("unexpected batch response")

// ErrAppUsageLimit is wrapped by the error returned when the shared app usage
// gate blocks a request. Such errors are not retried.
var ErrAppUsageLimit = errors.New("app usage limit reached")

// BatchError is the per-item failure of a batch. It wraps the classified
// error, usually an *apierr.Error, so the apierr predicates apply.
type BatchError struct {
	// Request is the batch item that failed.
	Request *BatchRequest
	Err     error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %s %s: %v", e.Request.Method, e.Request.RelativeURL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BatchError) Unwrap() error {
	return e.Err
}
