package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies domain failures so the boundary can map them to responses.
type Kind string

const (
	KindNotFound               Kind = "NOT_FOUND"
	KindAlreadyExists          Kind = "ALREADY_EXISTS"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindProtectedResource      Kind = "PROTECTED_RESOURCE"
	KindConcurrentModification Kind = "CONCURRENT_MODIFICATION"
	KindValidationFailure      Kind = "VALIDATION_FAILURE"
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindForbidden              Kind = "FORBIDDEN"
	KindInternal               Kind = "INTERNAL"
)

// Retryable reports whether a caller may safely retry the operation.
func (k Kind) Retryable() bool {
	return k == KindConcurrentModification
}

// Error is the typed failure returned by every public operation.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

// NewError builds a sentinel-style error.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinel errors by identity or by kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if e == t {
		return true
	}
	if e.Kind != t.Kind {
		return false
	}
	// Generic sentinels such as ErrNotFound match every error of their kind.
	if t.Code == string(t.Kind) {
		return true
	}
	return t.Code != "" && e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	clone := *e
	clone.Err = cause
	return &clone
}

// Withf returns a copy of e with a formatted message.
func (e *Error) Withf(format string, args ...any) *Error {
	clone := *e
	clone.Message = fmt.Sprintf(format, args...)
	return &clone
}

// Reclassify wraps a sentinel under a different kind while keeping errors.Is
// matches on the original.
func Reclassify(kind Kind, err *Error, message string) *Error {
	return &Error{Kind: kind, Code: err.Code, Message: message, Err: err}
}

// KindOf extracts the outermost kind of err, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// CodeOf extracts the machine code of err when present.
func CodeOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return ""
}

// Validation builds a validation failure with per-field messages.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidationFailure, Code: "VALIDATION_FAILED", Message: message, Fields: fields}
}

// NotFound builds a not-found error for the named resource.
func NotFound(resource string, id any) *Error {
	return &Error{Kind: KindNotFound, Code: strings.ToUpper(resource) + "_NOT_FOUND", Message: fmt.Sprintf("%s %v not found", resource, id)}
}

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = NewError(KindNotFound, "NOT_FOUND", "not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = NewError(KindUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	// ErrUnauthenticated indicates a request without a valid session.
	ErrUnauthenticated = NewError(KindUnauthorized, "UNAUTHENTICATED", "authentication required")
	// ErrForbidden indicates the actor lacks a required role.
	ErrForbidden = NewError(KindForbidden, "ACCESS_DENIED", "access denied")
	// ErrConcurrentModification indicates an optimistic lock conflict.
	ErrConcurrentModification = NewError(KindConcurrentModification, "CONCURRENT_MODIFICATION", "record was modified concurrently, retry the operation")
)
