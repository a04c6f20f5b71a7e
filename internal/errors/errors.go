package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a synthesis error code.
type ErrorCode string

const (
	ErrSchemaMismatch      ErrorCode = "SCHEMA_MISMATCH"       // table and schema disagree
	ErrDegenerateColumn    ErrorCode = "DEGENERATE_COLUMN"     // column unfit for its declared type
	ErrNonFiniteLoss       ErrorCode = "NON_FINITE_LOSS"       // fatal, aborts training
	ErrUnfittedModel       ErrorCode = "UNFITTED_MODEL"        // sample before fit
	ErrRetryBudgetExceeded ErrorCode = "RETRY_BUDGET_EXCEEDED" // rejection sampling gave up
	ErrEmptyCategory       ErrorCode = "EMPTY_CATEGORY"        // condition with zero support
	ErrInvalidConfig       ErrorCode = "INVALID_CONFIG"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrNameAlreadyExists   ErrorCode = "NAME_ALREADY_EXISTS"
	ErrInternal            ErrorCode = "INTERNAL"
)

// SynthError represents a structured error with code, message, and details.
type SynthError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *SynthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSchemaMismatch creates an error for a table that does not match its schema.
func NewSchemaMismatch(column, msg string) *SynthError {
	return &SynthError{
		Code:    ErrSchemaMismatch,
		Message: fmt.Sprintf("column %q: %s", column, msg),
		Details: map[string]any{"column": column},
	}
}

// NewDegenerateColumn creates an error for a column that cannot be fitted.
func NewDegenerateColumn(column, reason string) *SynthError {
	return &SynthError{
		Code:    ErrDegenerateColumn,
		Message: fmt.Sprintf("column %q cannot be fitted: %s", column, reason),
		Details: map[string]any{"column": column, "reason": reason},
	}
}

// NewNonFiniteLoss creates an error for a NaN or infinite training loss.
func NewNonFiniteLoss(stage string, epoch, step int, value float64) *SynthError {
	return &SynthError{
		Code:    ErrNonFiniteLoss,
		Message: fmt.Sprintf("%s loss is %v at epoch %d step %d; training aborted", stage, value, epoch, step),
		Details: map[string]any{"stage": stage, "epoch": epoch, "step": step},
	}
}

// NewUnfittedModel creates an error for sampling from a synthesizer that was never fitted.
func NewUnfittedModel() *SynthError {
	return &SynthError{
		Code:    ErrUnfittedModel,
		Message: "synthesizer has not been fitted",
	}
}

// NewRetryBudgetExceeded creates an error when conditional sampling runs out of tries.
func NewRetryBudgetExceeded(maxRetries, produced, requested int) *SynthError {
	return &SynthError{
		Code: ErrRetryBudgetExceeded,
		Message: fmt.Sprintf("produced %d of %d rows matching conditions after %d retries",
			produced, requested, maxRetries),
		Details: map[string]any{"max_retries": maxRetries, "produced": produced, "requested": requested},
	}
}

// NewEmptyCategory creates an error for a selected category without matching rows.
func NewEmptyCategory(column, category string) *SynthError {
	return &SynthError{
		Code:    ErrEmptyCategory,
		Message: fmt.Sprintf("no rows with %s = %q", column, category),
		Details: map[string]any{"column": column, "category": category},
	}
}

// NewInvalidConfig creates an error for a rejected configuration value.
func NewInvalidConfig(field, msg string) *SynthError {
	return &SynthError{
		Code:    ErrInvalidConfig,
		Message: fmt.Sprintf("%s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewInvalidRequest creates an error for invalid request parameters.
func NewInvalidRequest(msg string) *SynthError {
	return &SynthError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewNotFound creates an error for when a model cannot be found.
func NewNotFound(identifier string) *SynthError {
	return &SynthError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("model not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewNameAlreadyExists creates an error for model name collisions.
func NewNameAlreadyExists(name string) *SynthError {
	return &SynthError{
		Code:    ErrNameAlreadyExists,
		Message: fmt.Sprintf("model with name %q already exists", name),
		Details: map[string]any{"name": name},
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *SynthError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &SynthError{
		Code:    ErrInternal,
		Message: msg,
	}
}

// Is checks if err (or anything it wraps) is a SynthError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SynthError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns the SynthError carried by err, if any.
func As(err error) (*SynthError, bool) {
	var sErr *SynthError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}
