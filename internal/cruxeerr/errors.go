package cruxeerr

import "fmt"

// Error is the structured error type threaded through cruxe's core. It
// carries enough context to populate a canonical tool-call error envelope
// (spec §6) without re-deriving category/severity/retryability at each
// call site.
type Error struct {
	// Code is either one of the canonical wire codes (Code* constants) or
	// an internal-only classification code.
	Code string

	Message string

	Category Category

	Severity Severity

	// Details carries key-value context (e.g. "project_id", "ref").
	Details map[string]string

	Cause error

	Retryable bool

	// Suggestion feeds suggested_next_actions at the response boundary.
	Suggestion string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is by comparing codes.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches a remediation suggestion.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New builds an Error, deriving category/severity/retryability from code.
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

// Wrap builds an Error from an existing error, using its message as-is.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidInput builds a canonical invalid_input error.
func InvalidInput(message string, cause error) *Error {
	return New(CodeInvalidInput, message, cause)
}

// NotFound builds a canonical project_not_found error.
func NotFound(message string, cause error) *Error {
	return New(CodeProjectNotFound, message, cause)
}

// Conflict builds a canonical sync_in_progress error.
func Conflict(message string, cause error) *Error {
	return New(CodeSyncInProgress, message, cause)
}

// Incompatible builds a canonical index_incompatible error.
func Incompatible(message string, cause error) *Error {
	return New(CodeIndexIncompatible, message, cause)
}

// Internal builds a canonical internal_error.
func Internal(message string, cause error) *Error {
	return New(CodeInternalError, message, cause)
}

// Transient builds a retryable internal transport/storage error.
func Transient(message string, cause error) *Error {
	return New(CodeStoreConnectionFailed, message, cause)
}

// IsRetryable reports whether err is an *Error with Retryable set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*Error); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal reports whether err is an *Error with fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*Error); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not an *Error.
func GetCode(err error) string {
	if ae, ok := err.(*Error); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err is not an *Error.
func GetCategory(err error) Category {
	if ae, ok := err.(*Error); ok {
		return ae.Category
	}
	return ""
}
