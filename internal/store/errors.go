package store

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by store implementations and surfaced through
// the service layer. Handlers map these to HTTP status codes.
var (
	// ErrNotFound means the record does not exist or is not visible to
	// the caller. Ownership violations are reported as not-found rather
	// than access-denied to avoid leaking record existence.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidState means the operation is forbidden in the record's
	// current state (e.g. cancelling a completed action).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrAlreadyResolved means the approval request already has a decision.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrQuotaExceeded means the user's tier limit on concurrent actions
	// was reached. The proposal never enters the store.
	ErrQuotaExceeded = errors.New("concurrent action quota exceeded")

	// ErrAccessDenied means the caller is not allowed to act on the record.
	ErrAccessDenied = errors.New("access denied")
)

// ValidationError reports a malformed proposal. It is returned synchronously
// at propose time; invalid proposals never enter the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
