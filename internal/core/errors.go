package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or configuration
	ErrCatIO         ErrorCategory = "io"         // Local file read/write failure
	ErrCatState      ErrorCategory = "state"      // Ledger or lock state problem
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError is a local failure, as opposed to a provider Fault. Domain
// errors are never retried.
type DomainError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	Details  map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newDomainError(cat ErrorCategory, code, message string) *DomainError {
	return &DomainError{Category: cat, Code: code, Message: message}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return newDomainError(ErrCatValidation, code, message)
}

// ErrIO creates a local I/O error. Processing of the affected file stops,
// everything else continues.
func ErrIO(code, message string) *DomainError {
	return newDomainError(ErrCatIO, code, message)
}

// ErrState creates a ledger or lock error.
func ErrState(code, message string) *DomainError {
	return newDomainError(ErrCatState, code, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return newDomainError(ErrCatNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id))
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeLockAcquireFailed = "LOCK_ACQUIRE_FAILED"
	CodeLockHeld          = "LOCK_HELD"

	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeMissingCredential = "MISSING_CREDENTIAL"
	CodeNoIdentifierCols  = "NO_IDENTIFIER_COLUMNS"

	CodeReadFailed  = "READ_FAILED"
	CodeWriteFailed = "WRITE_FAILED"
)
