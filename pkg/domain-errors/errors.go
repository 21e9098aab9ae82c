// Package domainerrors defines the code-tagged error type shared by every
// domain service. Stores return sentinel errors (pkg/platform/sentinel);
// services translate them into these so callers always receive a structured
// kind + message + offending entity, never a raw driver error.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and the HTTP layer.
type Code string

const (
	// CodeValidation flags malformed or out-of-range input. The caller can
	// recover by correcting the input.
	CodeValidation Code = "validation"

	// CodeInvalidTransition flags a state machine violation, e.g. separating
	// an already-processed unit.
	CodeInvalidTransition Code = "invalid_transition"

	// CodeConflict flags a concurrent mutation collision or a referential
	// conflict, e.g. deleting an event that still has active registrations.
	CodeConflict Code = "conflict"

	// CodeEligibility flags a business-rule gate failure, e.g. a blocked
	// donor attempting to register.
	CodeEligibility Code = "eligibility"

	// CodeInsufficientInventory flags a fulfillment that cannot be completed
	// as requested.
	CodeInsufficientInventory Code = "insufficient_inventory"

	// CodeNotFound flags a reference to an entity id that does not exist.
	CodeNotFound Code = "not_found"

	// CodeTransient flags an infrastructure hiccup. This is the only code
	// eligible for automatic bounded retry.
	CodeTransient Code = "transient"

	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeInternal     Code = "internal"
)

// Error is the structured error surfaced by domain services.
type Error struct {
	Code    Code
	Message string
	// Entity identifies the offending entity when known (its id in string
	// form), so callers can render a precise message.
	Entity string
	cause  error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (entity %s)", e.Code, e.Message, e.Entity)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/As chains.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithEntity returns a copy of the error annotated with the offending
// entity id.
func (e *Error) WithEntity(entity string) *Error {
	clone := *e
	clone.Entity = entity
	return &clone
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// untagged errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the error may be retried automatically.
// Per the propagation policy only transient infrastructure errors qualify;
// validation and business-rule errors are never retried.
func IsRetryable(err error) bool {
	return HasCode(err, CodeTransient)
}

// ToHTTPStatus maps a code onto the status the HTTP layer should emit.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeEligibility:
		return http.StatusUnprocessableEntity
	case CodeInvalidTransition, CodeConflict, CodeInsufficientInventory:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
