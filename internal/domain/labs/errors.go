// Package labs provides the lab measurement value set consumed by the analytics engine.
package labs

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every ValidationError via errors.Is
var ErrValidation = errors.New("invalid lab measurement")

// Validation error codes
const (
	CodeEmptyName      = "empty_name"
	CodeNonFinite      = "non_finite"
	CodeInvertedRange  = "inverted_range"
	CodeEmptyBiomarker = "empty_biomarker"
)

// ValidationError describes a measurement rejected before analysis
type ValidationError struct {
	Index   int
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("lab_values[%d].%s: %s", e.Index, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(index int, field, code, message string) *ValidationError {
	return &ValidationError{Index: index, Field: field, Code: code, Message: message}
}

// NewValidationError builds a ValidationError for inputs outside a value set
// (for example trend samples). Pass index -1 when no position applies.
func NewValidationError(index int, field, code, message string) *ValidationError {
	return newValidationError(index, field, code, message)
}
