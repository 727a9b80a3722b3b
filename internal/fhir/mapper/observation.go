// Package mapper converts FHIR R5 lab Observations into analytics measurements.
package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/drfirst/labinsight/internal/domain/labs"
	fhir "github.com/drfirst/labinsight/internal/fhir/r5"
)

// Map error codes
const (
	CodeNullInput       = "NULL_INPUT"
	CodeWrongResource   = "WRONG_RESOURCE_TYPE"
	CodeMissingCode     = "MISSING_CODE"
	CodeMissingValue    = "MISSING_VALUE"
	CodeSubjectMismatch = "SUBJECT_MISMATCH"
)

// MapError represents a mapping error with context
type MapError struct {
	Field   string
	Code    string
	Message string
	Cause   error
}

func (e *MapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *MapError) Unwrap() error {
	return e.Cause
}

// MapResult contains the measurements of a set of observations
type MapResult struct {
	Inputs []labs.MeasurementInput
	// PatientID is the id of the common subject, if any
	PatientID string
	// CollectedAt is the latest effective time, zero when none is present
	CollectedAt time.Time
	// Skipped counts cancelled or entered-in-error observations
	Skipped int
}

// ObservationMapper transforms FHIR R5 Observations to lab measurement inputs
type ObservationMapper struct {
	// CategoryResolver maps an observation to a measurement category.
	// Empty means the default category.
	CategoryResolver func(obs *fhir.Observation) string
}

// NewObservationMapper creates a mapper with the default category resolver
func NewObservationMapper() *ObservationMapper {
	return &ObservationMapper{CategoryResolver: defaultCategoryResolver}
}

// defaultCategoryResolver uses the observation category unless it is the
// generic laboratory category.
func defaultCategoryResolver(obs *fhir.Observation) string {
	code := obs.CategoryCode()
	if code == fhir.CategoryLaboratory {
		return ""
	}
	return code
}

// MapObservation converts a single observation
func (m *ObservationMapper) MapObservation(obs *fhir.Observation) (labs.MeasurementInput, error) {
	if obs == nil {
		return labs.MeasurementInput{}, &MapError{Field: "Observation", Code: CodeNullInput, Message: "observation is required"}
	}
	if obs.ResourceType != "" && obs.ResourceType != "Observation" {
		return labs.MeasurementInput{}, &MapError{
			Field:   "resourceType",
			Code:    CodeWrongResource,
			Message: fmt.Sprintf("expected Observation, got %s", obs.ResourceType),
		}
	}

	name := obs.Code.Label()
	if name == "" {
		name = obs.Code.CodeIn(fhir.SystemLOINC)
	}
	if strings.TrimSpace(name) == "" {
		return labs.MeasurementInput{}, &MapError{Field: "code", Code: CodeMissingCode, Message: "observation code has no text, display or code"}
	}

	if obs.ValueQuantity == nil || obs.ValueQuantity.Value == nil {
		return labs.MeasurementInput{}, &MapError{Field: "valueQuantity", Code: CodeMissingValue, Message: "observation has no quantitative value"}
	}

	in := labs.MeasurementInput{
		Name:  name,
		Value: *obs.ValueQuantity.Value,
		Unit:  obs.ValueQuantity.UnitLabel(),
	}
	if rr := normalRange(obs.ReferenceRange); rr != nil {
		if rr.Low != nil {
			in.ReferenceRangeMin = copyValue(rr.Low.Value)
		}
		if rr.High != nil {
			in.ReferenceRangeMax = copyValue(rr.High.Value)
		}
	}
	if m.CategoryResolver != nil {
		in.Category = m.CategoryResolver(obs)
	}
	return in, nil
}

// MapObservations converts observations in order, skipping cancelled and
// entered-in-error results. All observations with a subject must share it.
func (m *ObservationMapper) MapObservations(observations []fhir.Observation) (*MapResult, error) {
	result := &MapResult{Inputs: make([]labs.MeasurementInput, 0, len(observations))}

	for i := range observations {
		obs := &observations[i]
		if obs.Status == fhir.ObservationCancelled || obs.Status == fhir.ObservationEnteredInError {
			result.Skipped++
			continue
		}

		in, err := m.MapObservation(obs)
		if err != nil {
			return nil, &MapError{
				Field:   fmt.Sprintf("observations[%d]", i),
				Code:    codeOf(err),
				Message: "observation could not be mapped",
				Cause:   err,
			}
		}
		result.Inputs = append(result.Inputs, in)

		if id := subjectID(obs.Subject); id != "" {
			if result.PatientID != "" && result.PatientID != id {
				return nil, &MapError{
					Field:   fmt.Sprintf("observations[%d].subject", i),
					Code:    CodeSubjectMismatch,
					Message: fmt.Sprintf("subject %s differs from %s", id, result.PatientID),
				}
			}
			result.PatientID = id
		}
		if at, ok := obs.EffectiveTime(); ok && at.After(result.CollectedAt) {
			result.CollectedAt = at
		}
	}
	return result, nil
}

// normalRange picks the first range without a type or typed as normal
func normalRange(ranges []fhir.ObservationReferenceRange) *fhir.ObservationReferenceRange {
	for i := range ranges {
		t := ranges[i].Type
		if t == nil || len(t.Coding) == 0 {
			return &ranges[i]
		}
		for _, c := range t.Coding {
			if c.Code == "normal" {
				return &ranges[i]
			}
		}
	}
	return nil
}

// subjectID extracts the id from a "Patient/{id}" reference
func subjectID(ref *fhir.Reference) string {
	if ref == nil {
		return ""
	}
	if id, ok := strings.CutPrefix(ref.Reference, "Patient/"); ok {
		return id
	}
	if ref.Identifier != nil {
		return ref.Identifier.Value
	}
	return ""
}

func codeOf(err error) string {
	if me, ok := err.(*MapError); ok {
		return me.Code
	}
	return ""
}

func copyValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
