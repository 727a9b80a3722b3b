// Package ingest resolves a submitted lab panel, given as plain lab values,
// FHIR Observations or a FHIR Bundle, into a validated value set.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/labinsight/internal/domain/labs"
	"github.com/drfirst/labinsight/internal/fhir/mapper"
	fhir "github.com/drfirst/labinsight/internal/fhir/r5"
	"github.com/drfirst/labinsight/internal/history"
)

// Submission error codes
const (
	CodeMissingBody        = "missing_body"
	CodeConflictingSources = "conflicting_sources"
	CodeMissingPatient     = "missing_patient"
)

// Submission is a lab panel as posted to the API or published on the
// panel topic. At most one of LabValues, Observations and Bundle is set.
type Submission struct {
	PanelID      string                  `json:"panel_id,omitempty"`
	PatientID    string                  `json:"patient_id,omitempty"`
	PatientName  string                  `json:"patient_name,omitempty"`
	CollectedAt  *time.Time              `json:"collected_at,omitempty"`
	Source       string                  `json:"source,omitempty"`
	LabValues    []labs.MeasurementInput `json:"lab_values,omitempty"`
	Observations []fhir.Observation      `json:"observations,omitempty"`
	Bundle       *fhir.Bundle            `json:"bundle,omitempty"`
}

// Panel is a resolved submission ready for analysis
type Panel struct {
	ID          string
	PatientID   string
	PatientName string
	CollectedAt time.Time
	Source      string
	Inputs      []labs.MeasurementInput
	Values      *labs.ValueSet
	// Skipped counts FHIR observations left out as cancelled or entered in error
	Skipped int
}

// HistoryPanel returns the panel in its stored form
func (p *Panel) HistoryPanel() *history.Panel {
	return &history.Panel{
		ID:          p.ID,
		PatientID:   p.PatientID,
		CollectedAt: p.CollectedAt,
		Source:      p.Source,
		Inputs:      p.Inputs,
	}
}

// Resolver turns submissions into panels
type Resolver struct {
	mapper        *mapper.ObservationMapper
	defaultSource string
	now           func() time.Time
	newID         func() string
}

// NewResolver creates a resolver that labels panels without a source as defaultSource
func NewResolver(defaultSource string) *Resolver {
	return &Resolver{
		mapper:        mapper.NewObservationMapper(),
		defaultSource: defaultSource,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.New().String() },
	}
}

// Resolve validates and converts a submission. Measurement problems are
// returned as *labs.ValidationError or *mapper.MapError.
func (r *Resolver) Resolve(sub *Submission) (*Panel, error) {
	if sub == nil {
		return nil, labs.NewValidationError(-1, "body", CodeMissingBody, "request body is required")
	}

	if n := sourceCount(sub); n > 1 {
		return nil, labs.NewValidationError(-1, "lab_values", CodeConflictingSources,
			"provide only one of lab_values, observations or bundle")
	}

	panel := &Panel{
		ID:          strings.TrimSpace(sub.PanelID),
		PatientID:   strings.TrimSpace(sub.PatientID),
		PatientName: strings.TrimSpace(sub.PatientName),
		Source:      strings.TrimSpace(sub.Source),
		Inputs:      sub.LabValues,
	}

	var collected time.Time
	observations := sub.Observations
	if sub.Bundle != nil {
		obs, patient, err := sub.Bundle.Observations()
		if err != nil {
			return nil, &mapper.MapError{Field: "bundle", Code: mapper.CodeWrongResource, Message: "bundle could not be decoded", Cause: err}
		}
		observations = obs
		if patient != nil {
			if panel.PatientID == "" {
				panel.PatientID = patient.ID
			}
			if panel.PatientName == "" {
				panel.PatientName = patient.GetFullName()
			}
		}
	}

	if len(observations) > 0 {
		mapped, err := r.mapper.MapObservations(observations)
		if err != nil {
			return nil, err
		}
		if mapped.PatientID != "" && panel.PatientID != "" && mapped.PatientID != panel.PatientID {
			return nil, &mapper.MapError{
				Field:   "observations.subject",
				Code:    mapper.CodeSubjectMismatch,
				Message: fmt.Sprintf("observations belong to %s, not %s", mapped.PatientID, panel.PatientID),
			}
		}
		if panel.PatientID == "" {
			panel.PatientID = mapped.PatientID
		}
		panel.Inputs = mapped.Inputs
		panel.Skipped = mapped.Skipped
		collected = mapped.CollectedAt
	}

	values, err := labs.NewValueSet(panel.Inputs)
	if err != nil {
		return nil, err
	}
	panel.Values = values

	switch {
	case sub.CollectedAt != nil && !sub.CollectedAt.IsZero():
		panel.CollectedAt = sub.CollectedAt.UTC()
	case !collected.IsZero():
		panel.CollectedAt = collected.UTC()
	default:
		panel.CollectedAt = r.now()
	}
	if panel.ID == "" {
		panel.ID = r.newID()
	}
	if panel.Source == "" {
		panel.Source = r.defaultSource
	}
	if panel.Inputs == nil {
		panel.Inputs = []labs.MeasurementInput{}
	}

	return panel, nil
}

func sourceCount(sub *Submission) int {
	n := 0
	if len(sub.LabValues) > 0 {
		n++
	}
	if len(sub.Observations) > 0 {
		n++
	}
	if sub.Bundle != nil {
		n++
	}
	return n
}
