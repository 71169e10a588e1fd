// Package errs defines the error taxonomy shared across the enrichment
// engine: validation, conflict, quota-exhaustion, and persistence errors.
// Provider failures are typed separately in internal/provider.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed or over-limit input before any side
// effect has taken place.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err (or its chain) is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError rejects a review action against a run or field that is no
// longer in a reviewable state. It is an explicit refusal, never a silent
// no-op.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// Conflictf builds a ConflictError from a format string.
func Conflictf(format string, args ...any) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err (or its chain) is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// QuotaExhaustedError marks a stage that was skipped because the named
// service's daily budget ran out. Callers record it as a skip reason; it is
// never a fatal failure.
type QuotaExhaustedError struct {
	Service string
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted for service %s", e.Service)
}

// IsQuotaExhausted reports whether err (or its chain) is a QuotaExhaustedError.
func IsQuotaExhausted(err error) bool {
	var qe *QuotaExhaustedError
	return errors.As(err, &qe)
}

// PersistenceError wraps a store failure. It aborts the current operation
// but must never corrupt already-computed in-memory results.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps err as a PersistenceError for the given operation.
func Persistence(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err (or its chain) is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
