package executor

import (
	"errors"
	"fmt"
)

// ErrorKind names the failure class of an execution attempt. Capability
// adapters normalize vendor-specific failures into these kinds before they
// reach the scheduling core.
type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindRateLimited      ErrorKind = "rate_limited"
	KindTimeout          ErrorKind = "timeout"
	KindValidation       ErrorKind = "validation"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindNotFound         ErrorKind = "not_found"
	KindInternal         ErrorKind = "internal"
)

// ExecutionError classifies a capability failure as retryable or terminal.
// Retryable errors drive the backoff path; terminal errors fail the action
// immediately regardless of remaining retries.
type ExecutionError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps a transient failure (network, rate limit, timeout).
func NewRetryable(kind ErrorKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Retryable: true, Err: err}
}

// NewTerminal wraps a permanent failure (validation, permission, missing
// resource). Terminal failures bypass retry entirely.
func NewTerminal(kind ErrorKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Retryable: false, Err: err}
}

// Retryable reports whether the error should re-enter the backoff path.
// Unclassified errors are treated as retryable so that a capability that
// forgets to classify cannot permanently fail an action on a transient
// fault; terminal classification must be explicit.
func Retryable(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}
	return true
}
