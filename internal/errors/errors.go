package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig    = "CONFIG"
	ErrTransport = "TRANSPORT"
	ErrParse     = "PARSE"
	ErrStore     = "STORE"
	ErrExec      = "EXEC"
)

// Transport failure reasons. Attached to TRANSPORT errors so callers can
// distinguish a hung command from a refused login without string matching.
const (
	ReasonTimeout        = "Timeout"
	ReasonAuthFailure    = "AuthFailure"
	ReasonConnectionLost = "ConnectionLost"
	ReasonNonZeroExit    = "NonZeroExit"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Reason     string // transport sub-reason, empty for non-transport errors
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// NewTransport creates a TRANSPORT error carrying a failure reason.
func NewTransport(reason, message, suggestion string) *Error {
	return &Error{
		Code:       ErrTransport,
		Reason:     reason,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrTransport code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrTransport,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// WrapTransport wraps an existing error as a TRANSPORT error with a reason.
func WrapTransport(err error, reason, message, suggestion string) *Error {
	return &Error{
		Code:       ErrTransport,
		Reason:     reason,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface with formatted output.
func (e *Error) Error() string {
	var b strings.Builder

	// First line: failure symbol + main message
	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	// Include cause if present (why it failed)
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	// Include suggestion if present (how to fix)
	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var swErr *Error
	if errors.As(err, &swErr) {
		return swErr.Code == code
	}
	return false
}

// TransportReason returns the transport failure reason of err, or "" if err
// is not a TRANSPORT error.
func TransportReason(err error) string {
	if err == nil {
		return ""
	}
	var swErr *Error
	if errors.As(err, &swErr) && swErr.Code == ErrTransport {
		return swErr.Reason
	}
	return ""
}
