// Package errors provides structured error types for the benchmark.
// All errors include a category, code, message, and fatal flag so the
// orchestrator can distinguish "reject the run" from "record and continue".
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the taxonomy the benchmark reports on.
type ErrorCategory string

const (
	// ErrCategoryConfig covers invalid experiment/metric/benchmark configuration.
	// Config errors are fatal and rejected before any rendering happens.
	ErrCategoryConfig ErrorCategory = "CONFIG"

	// ErrCategoryRender covers feature combinations with no defined
	// compilation rule. Fatal for the combination only.
	ErrCategoryRender ErrorCategory = "RENDER"

	// ErrCategoryExecution covers engine-side failures: rejected SQL,
	// lost connections, timeouts. Recorded per query, never aborts the run.
	ErrCategoryExecution ErrorCategory = "EXECUTION"

	// ErrCategoryValidation covers precondition failures around the
	// equivalence check (a mismatch itself is a finding, not an error).
	ErrCategoryValidation ErrorCategory = "VALIDATION"

	// ErrCategoryInternal covers unexpected failures.
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeConflictingWindow = "CONFLICTING_WINDOW"
	CodeMissingSubMetric  = "MISSING_SUB_METRIC"
	CodeInvalidQuantile   = "INVALID_QUANTILE"
	CodeUnknownEnum       = "UNKNOWN_ENUM"
	CodeMissingField      = "MISSING_FIELD"

	// Render codes
	CodeUnsupportedCombination = "UNSUPPORTED_COMBINATION"
	CodeUnknownEngine          = "UNKNOWN_ENGINE"

	// Execution codes
	CodeQueryFailed      = "QUERY_FAILED"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeExecutionTimeout = "EXECUTION_TIMEOUT"
	CodePipelineNotBuilt = "PIPELINE_NOT_BUILT"

	// Validation codes
	CodeMissingCounterpart = "MISSING_COUNTERPART"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// BenchError is the structured error type used throughout the system.
type BenchError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	// Fatal marks errors that must stop the run (config errors); non-fatal
	// errors are recorded against their combination and execution continues.
	Fatal bool
}

// Error returns a formatted error string.
func (e *BenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BenchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BenchError) Is(target error) bool {
	var t *BenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BenchError.
func New(category ErrorCategory, code, message string) *BenchError {
	return &BenchError{
		Category: category,
		Code:     code,
		Message:  message,
		Fatal:    category == ErrCategoryConfig,
	}
}

// Wrap creates a new BenchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BenchError {
	return &BenchError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
		Fatal:    category == ErrCategoryConfig,
	}
}

// IsFatal checks whether an error (or its chain) must abort the run.
func IsFatal(err error) bool {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Fatal
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCategory(err error) ErrorCategory {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCode(err error) string {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *BenchError {
	return New(ErrCategoryConfig, code, message)
}

func NewRenderError(code, message string) *BenchError {
	return New(ErrCategoryRender, code, message)
}

func NewExecutionError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryExecution, code, message, cause)
}

func NewValidationError(code, message string) *BenchError {
	return New(ErrCategoryValidation, code, message)
}

func NewInternalError(message string, cause error) *BenchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
