// Package nifi implements a revisioned resource client for the NiFi REST
// API: authenticated reads and optimistic-concurrency writes against the
// engine's object model, a readiness gate, and a dry-run mode that
// synthesizes results for every mutating call.
package nifi

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass classifies a client error for retry and abort decisions.
type ErrorClass string

const (
	// ClassAuth indicates the engine rejected or returned no session token.
	// Fatal: no resource operation is meaningful without a session.
	ClassAuth ErrorClass = "auth"

	// ClassTimeout indicates a bounded wait was exhausted, e.g. the
	// readiness gate. Fatal for the run.
	ClassTimeout ErrorClass = "timeout"

	// ClassConflict indicates a stale-revision rejection. This is the one
	// retryable class: refetch the revision and write again.
	ClassConflict ErrorClass = "conflict"

	// ClassPermanent indicates a non-recoverable failure for the resource
	// being operated on (validation error, not found, create failure).
	ClassPermanent ErrorClass = "permanent"
)

// Error codes for programmatic handling.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeAuthRejected      = "AUTH_REJECTED"
	CodeReadinessTimeout  = "READINESS_TIMEOUT"
	CodeNotFound          = "NOT_FOUND"
	CodeCreateFailed      = "CREATE_FAILED"
	CodeConfigureFailed   = "CONFIGURE_FAILED"
	CodeRevisionConflict  = "REVISION_CONFLICT"
	CodeRetryExhausted    = "RETRY_EXHAUSTED"
	CodeDependencyMissing = "DEPENDENCY_MISSING"
	CodeBadResponse       = "BAD_RESPONSE"
)

// Error is a classified client error with enough context to reproduce the
// failure: resource kind and name, HTTP status and response body.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Kind is the resource kind involved, if applicable.
	Kind ResourceKind `json:"kind,omitempty"`

	// Name is the resource name involved, if applicable.
	Name string `json:"name,omitempty"`

	// HTTPStatus is the remote status code, when the engine responded.
	HTTPStatus int `json:"http_status,omitempty"`

	// Body is the remote response body, verbatim.
	Body string `json:"body,omitempty"`

	// Elapsed is the total wait before a timeout error was raised.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Kind != "" && e.Name != "" {
		msg += fmt.Sprintf(" (kind=%s, name=%s)", e.Kind, e.Name)
	}
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.HTTPStatus)
		if e.Body != "" {
			msg += ": " + e.Body
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error { return e.Err }

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewAuthError creates an authentication error.
func NewAuthError(message string, err error) *Error {
	return &Error{Class: ClassAuth, Code: CodeAuthRejected, Message: message, Err: err}
}

// NewTimeoutError creates a timeout error carrying the total elapsed wait.
func NewTimeoutError(message string, elapsed time.Duration) *Error {
	return &Error{Class: ClassTimeout, Code: CodeReadinessTimeout, Message: message, Elapsed: elapsed}
}

// NewConflictError creates a stale-revision conflict error.
func NewConflictError(message string) *Error {
	return &Error{Class: ClassConflict, Code: CodeRevisionConflict, Message: message}
}

// NewPermanentError creates a non-recoverable error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ClassPermanent, Message: message, Err: err}
}

// WithCode adds an error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithResource adds resource kind and name context.
func (e *Error) WithResource(kind ResourceKind, name string) *Error {
	e.Kind = kind
	e.Name = name
	return e
}

// WithHTTP adds the remote status code and response body, verbatim.
func (e *Error) WithHTTP(status int, body string) *Error {
	e.HTTPStatus = status
	e.Body = body
	return e
}

// IsConflict reports whether err is a stale-revision conflict.
func IsConflict(err error) bool { return classOf(err) == ClassConflict }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return classOf(err) == ClassAuth }

// IsTimeout reports whether err is an exhausted bounded wait.
func IsTimeout(err error) bool { return classOf(err) == ClassTimeout }

// IsPermanent reports whether err is non-recoverable.
func IsPermanent(err error) bool { return classOf(err) == ClassPermanent }

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool { return codeOf(err) == CodeNotFound }

// IsRetryExhausted reports whether err is a conflict retry loop that ran out
// of attempts. Distinct from a non-retryable failure for diagnostics.
func IsRetryExhausted(err error) bool { return codeOf(err) == CodeRetryExhausted }

// IsDependencyMissing reports whether err marks a step skipped because a
// prerequisite resource id never resolved.
func IsDependencyMissing(err error) bool { return codeOf(err) == CodeDependencyMissing }

func classOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

func codeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
