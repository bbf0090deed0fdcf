// Package apperr defines the application error type shared by the billing
// and insurance services. Every service failure is an *Error carrying a kind
// and a human-readable message; callers branch on the kind, not the text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure.
type Kind string

const (
	// KindValidation marks input that failed validation before any mutation.
	KindValidation Kind = "validation"
	// KindBusinessRule marks input that is well-formed but violates a
	// business invariant (overpayment, double void, expired policy).
	KindBusinessRule Kind = "business_rule"
	// KindNotFound marks a missing record.
	KindNotFound Kind = "not_found"
	// KindInternal marks unexpected failures (database, transaction).
	KindInternal Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a validation error with a formatted message.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// BusinessRule returns a business-rule error with a formatted message.
func BusinessRule(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBusinessRule, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error for the named entity.
func NotFound(entity string, id interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

// Internal wraps an unexpected failure with a prefixed message.
func Internal(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err if it is an *Error, or KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsBusinessRule reports whether err is a business-rule error.
func IsBusinessRule(err error) bool { return KindOf(err) == KindBusinessRule }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindNotFound
	}
	return false
}
