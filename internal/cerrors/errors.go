package cerrors

import (
	"fmt"
	"strings"
)

// Error is the structured error type for cindex.
// It carries everything a tool response or log line needs: a stable code,
// a category, a human message, and an actionable suggestion.
type Error struct {
	// Code is the unique error code (e.g., "ERR_301_STORE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Store, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
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

// Is checks if this error matches the target error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// UserMessage renders the message plus suggestion for tool responses.
func (e *Error) UserMessage() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Suggestion != "" {
		b.WriteString(". ")
		b.WriteString(e.Suggestion)
	}
	return b.String()
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error.
// The wrapped error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Wrapf wraps an existing error with a formatted message prefix.
func Wrapf(code string, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return New(code, fmt.Sprintf(format, args...)+": "+err.Error(), err)
}

// ConfigError creates a configuration error with the standard suggestion shape.
func ConfigError(message, suggestion string) *Error {
	return New(ErrCodeConfigMissing, message, nil).WithSuggestion(suggestion)
}

// ValidationError creates a tool-input validation error.
func ValidationError(message string) *Error {
	return New(ErrCodeInvalidInput, message, nil)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*Error); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*Error); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code. Returns empty string for foreign errors.
func GetCode(err error) string {
	if ce, ok := err.(*Error); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category. Returns empty string for foreign errors.
func GetCategory(err error) Category {
	if ce, ok := err.(*Error); ok {
		return ce.Category
	}
	return ""
}
