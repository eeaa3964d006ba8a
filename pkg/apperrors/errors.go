package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the margin and settlement services.
var (
	ErrUnsupportedContractType   = errors.New("unsupported contract type")
	ErrUnsupportedSettlementType = errors.New("unsupported settlement type")
	ErrInvalidStateTransition    = errors.New("invalid state transition")
)

// ValidationError indicates bad input rejected before any state mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidation creates a ValidationError for the given field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// WorkflowStepError indicates a settlement workflow step failed partway
// through execution. Prior completed steps are not rolled back.
type WorkflowStepError struct {
	Step    string
	Message string
}

func (e *WorkflowStepError) Error() string {
	return fmt.Sprintf("workflow step %s failed: %s", e.Step, e.Message)
}

// NewWorkflowStep creates a WorkflowStepError for the given step.
func NewWorkflowStep(step, message string) *WorkflowStepError {
	return &WorkflowStepError{Step: step, Message: message}
}
