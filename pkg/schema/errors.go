package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeClaimLost         = "CLAIM_LOST"
	ErrCodeRender            = "RENDER_ERROR"
	ErrCodeCondition         = "CONDITION_ERROR"
	ErrCodeQueue             = "QUEUE_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
)

// SequencerError is the structured error type returned across the engine.
type SequencerError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *SequencerError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SequencerError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SequencerError.
func NewError(code, message string) *SequencerError {
	return &SequencerError{Code: code, Message: message}
}

// NewErrorf creates a new SequencerError with a formatted message.
func NewErrorf(code, format string, args ...any) *SequencerError {
	return &SequencerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *SequencerError) WithStep(stepID string) *SequencerError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *SequencerError) WithCause(err error) *SequencerError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SequencerError) WithDetails(details map[string]any) *SequencerError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first SequencerError in err's chain, or "".
func CodeOf(err error) string {
	var serr *SequencerError
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
