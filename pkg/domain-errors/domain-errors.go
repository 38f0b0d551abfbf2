package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business terms, not HTTP terms.
type Code string

const (
	// Access classification codes. These drive the remedy offered to the
	// caller: repair for no_tenant, "contact admin" for not_authorized and
	// feature_disabled, retry for transient, manual refresh for other.
	CodeNoTenant        Code = "no_tenant"
	CodeNotAuthorized   Code = "not_authorized"
	CodeFeatureDisabled Code = "feature_disabled"
	CodeTransient       Code = "transient"
	CodeOther           Code = "other"

	// Infrastructure codes used between stores and services.
	CodeNotFound   Code = "not_found"
	CodeBadRequest Code = "bad_request"
	CodeConflict   Code = "conflict"
	CodeInternal   Code = "internal_error"
	CodeTimeout    Code = "timeout"
)

// Retryable reports whether an operation failing with this code may succeed
// on a later attempt. Only transient failures qualify; retrying an
// authorization or configuration failure cannot change the outcome.
func (c Code) Retryable() bool {
	return c == CodeTransient || c == CodeTimeout
}

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and
// orchestrator layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is
// preserved so classification survives layering.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the domain code from an error chain.
// Unclassified errors report CodeOther so callers never fall back to
// message matching.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeOther
}
