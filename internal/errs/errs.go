package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown tenant/area/issue/report ids. Surfaced to
	// the caller, never recovered.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals a duplicate issue-creation race detected at the
	// persistence boundary. The pipeline compensates once, then surfaces it.
	ErrConflict = errors.New("conflict")
)

// ValidationError marks malformed input: missing fields or values outside a
// closed enumeration. Not retryable. For inference output the callers
// degrade to the deterministic fallback instead of propagating it; for
// request input it maps to a 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func NotFound(resource string, id int64) error {
	return fmt.Errorf("%s %d: %w", resource, id, ErrNotFound)
}
