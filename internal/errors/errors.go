package errors

import (
	"fmt"
)

// Error is cidx's structured error type. It carries enough context for
// logging, retry decisions, and a one-line user-facing message without
// string-matching on Error().
type Error struct {
	// Code is the stable, specific identifier (e.g. CodeIOFileNotFound).
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the broad category this code belongs to.
	Kind Kind

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable one-line suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is(err, target) by comparing stable codes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a key-value detail to the error and returns it for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates an Error with the given code and message. Kind, severity, and
// retryability are derived from the code.
func New(code string, message string, cause error) *Error {
	kind := kindOf(code)
	return &Error{
		Code:      code,
		Message:   message,
		Kind:      kind,
		Severity:  severityOf(kind, code),
		Cause:     cause,
		Retryable: isRetryableKind(kind),
	}
}

// Wrap turns err into an Error under the given code, preserving err as Cause.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(CodeConfigInvalid, message, cause)
}

// AuthError creates an authentication-related error against the embedding
// provider.
func AuthError(message string, cause error) *Error {
	return New(CodeAuthRejected, message, cause)
}

// NetworkError creates a network-related error. Network errors are
// retryable by default.
func NetworkError(message string, cause error) *Error {
	return New(CodeNetworkUnavailable, message, cause)
}

// BadInputError creates a caller-input validation error.
func BadInputError(message string, cause error) *Error {
	return New(CodeBadInputDimension, message, cause)
}

// IOError creates a filesystem-related error.
func IOError(message string, cause error) *Error {
	return New(CodeIOFileNotFound, message, cause)
}

// CorruptionError creates an on-disk integrity error.
func CorruptionError(code, message string, cause error) *Error {
	return New(code, message, cause)
}

// LockTimeoutError creates a lock-acquisition-timeout error.
func LockTimeoutError(code, message string, cause error) *Error {
	return New(code, message, cause)
}

// CancelledError creates a cancellation error.
func CancelledError(message string, cause error) *Error {
	return New(CodeCancelledByCaller, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(CodeInternal, message, cause)
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// IsFatal reports whether err is a fatal-severity *Error.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the stable code from an *Error, or "" if err isn't one.
func GetCode(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// GetKind extracts the Kind from an *Error, or "" if err isn't one.
func GetKind(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
