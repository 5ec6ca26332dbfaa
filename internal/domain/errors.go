package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness invariant,
// such as a second non-terminal alert for the same patient.
var ErrConflict = errors.New("conflict")

// InputError reports an invalid reading series or request payload. It is
// surfaced to the caller; the computation is aborted and nothing persisted.
type InputError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input for %q: %s", e.Field, e.Message)
}

// NewInputError creates a new InputError.
func NewInputError(field, message string) *InputError {
	return &InputError{Field: field, Message: message}
}

// ModelUnavailableError reports a missing or corrupt model artifact. It is
// recovered locally via the rule-based fallback and never surfaced to callers.
type ModelUnavailableError struct {
	Model  ModelName
	Reason string
}

// Error implements the error interface.
func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %s", e.Model, e.Reason)
}

// ComputationTimeoutError reports model inference exceeding its bound.
// Recovered via the rule-based fallback; a timeout degrades quality, never
// availability.
type ComputationTimeoutError struct {
	Model   ModelName
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *ComputationTimeoutError) Error() string {
	return fmt.Sprintf("inference on model %s timed out after %s", e.Model, e.Elapsed)
}

// PersistenceError reports a failed write after a valid assessment was
// computed. The assessment itself is still returned to the caller with
// alert_created=false.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ErrDivisionUndefined marks a zero-baseline percent-change computation.
// It is recovered inside the trend extractor (percent change 0, reliability
// lowered) and must never propagate past it.
var ErrDivisionUndefined = errors.New("division undefined: zero baseline")

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
