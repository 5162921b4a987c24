package core

import (
	"fmt"
)

// ErrorCategory classifies an error for debugging and reporting.
type ErrorCategory int

// Categories, roughly ordered from "the app misbehaved" to "we misbehaved".
const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryElement                         // Element not found, not visible, text mismatch
	ErrCategoryTimeout                         // Operation timed out
	ErrCategoryConnection                      // Driver server or device connection lost
	ErrCategoryProvider                        // Cloud provider rejected a request
	ErrCategoryConfig                          // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory.
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryElement:
		return "element"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryProvider:
		return "provider"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ExecutionError is a structured error with category and machine-readable code.
type ExecutionError struct {
	Category ErrorCategory
	Code     string // Machine-readable code: element_not_found, timeout, etc.
	Message  string // Human-readable message
	Cause    error  // Underlying error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches two ExecutionErrors by code, so errors.Is works across the
// WithCause/WithMessage copies.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	return ok && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message.
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Cause:    e.Cause,
	}
}

// Predefined errors (aligned with W3C WebDriver error codes where one exists).
var (
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryElement,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrElementNotVisible = &ExecutionError{
		Category: ErrCategoryElement,
		Code:     "element_not_visible",
		Message:  "element not visible",
	}
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}
	ErrSessionLost = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "session_lost",
		Message:  "automation session lost",
	}
	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "server_unreachable",
		Message:  "could not connect to automation server",
	}
	ErrProviderRejected = &ExecutionError{
		Category: ErrCategoryProvider,
		Code:     "provider_rejected",
		Message:  "provider rejected the request",
	}
	ErrUploadFailed = &ExecutionError{
		Category: ErrCategoryProvider,
		Code:     "upload_failed",
		Message:  "app build upload failed",
	}
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters.
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}
