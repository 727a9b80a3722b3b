package mapper

import (
	"errors"
	"testing"
	"time"

	"github.com/drfirst/labinsight/internal/domain/labs"
	fhir "github.com/drfirst/labinsight/internal/fhir/r5"
)

func f(v float64) *float64 { return &v }

func glucoseObservation() fhir.Observation {
	at := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	return fhir.Observation{
		ResourceType: "Observation",
		ID:           "obs-glucose",
		Status:       fhir.ObservationFinal,
		Category: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: fhir.SystemObservationCategory, Code: fhir.CategoryLaboratory}},
		}},
		Code: fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: fhir.SystemLOINC, Code: "2345-7", Display: "Glucose"}},
		},
		Subject:           &fhir.Reference{Reference: "Patient/pat-001"},
		EffectiveDateTime: &at,
		ValueQuantity:     &fhir.Quantity{Value: f(130), Unit: "mg/dL", System: fhir.SystemUCUM, Code: "mg/dL"},
		ReferenceRange: []fhir.ObservationReferenceRange{
			{Low: &fhir.Quantity{Value: f(70)}, High: &fhir.Quantity{Value: f(99)}},
		},
	}
}

func TestMapObservation(t *testing.T) {
	obs := glucoseObservation()

	in, err := NewObservationMapper().MapObservation(&obs)
	if err != nil {
		t.Fatalf("MapObservation: %v", err)
	}

	if in.Name != "Glucose" || in.Value != 130 || in.Unit != "mg/dL" {
		t.Errorf("input = %+v", in)
	}
	if in.ReferenceRangeMin == nil || *in.ReferenceRangeMin != 70 || in.ReferenceRangeMax == nil || *in.ReferenceRangeMax != 99 {
		t.Errorf("reference range = %v-%v", in.ReferenceRangeMin, in.ReferenceRangeMax)
	}
	if in.Category != "" {
		t.Errorf("laboratory category should map to the default, got %q", in.Category)
	}

	// the mapped input must be accepted by the value set
	set, err := labs.NewValueSet([]labs.MeasurementInput{in})
	if err != nil {
		t.Fatalf("NewValueSet: %v", err)
	}
	if !set.At(0).IsAbnormal() {
		t.Error("expected abnormal glucose")
	}
}

func TestMapObservationNameFallbacks(t *testing.T) {
	obs := glucoseObservation()
	obs.Code = fhir.CodeableConcept{Text: "Fasting glucose"}
	in, err := NewObservationMapper().MapObservation(&obs)
	if err != nil || in.Name != "Fasting glucose" {
		t.Errorf("text: got %q, %v", in.Name, err)
	}

	obs.Code = fhir.CodeableConcept{Coding: []fhir.Coding{{System: fhir.SystemLOINC, Code: "4548-4"}}}
	in, err = NewObservationMapper().MapObservation(&obs)
	if err != nil || in.Name != "4548-4" {
		t.Errorf("code: got %q, %v", in.Name, err)
	}
}

func TestMapObservationSkipsTypedRanges(t *testing.T) {
	obs := glucoseObservation()
	obs.ReferenceRange = []fhir.ObservationReferenceRange{
		{
			High: &fhir.Quantity{Value: f(140)},
			Type: &fhir.CodeableConcept{Coding: []fhir.Coding{{Code: "treatment"}}},
		},
		{
			Low:  &fhir.Quantity{Value: f(65)},
			Type: &fhir.CodeableConcept{Coding: []fhir.Coding{{Code: "normal"}}},
		},
	}

	in, err := NewObservationMapper().MapObservation(&obs)
	if err != nil {
		t.Fatalf("MapObservation: %v", err)
	}
	if in.ReferenceRangeMin == nil || *in.ReferenceRangeMin != 65 || in.ReferenceRangeMax != nil {
		t.Errorf("expected the normal range with only a low bound, got %v-%v", in.ReferenceRangeMin, in.ReferenceRangeMax)
	}
}

func TestMapObservationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fhir.Observation)
		code   string
	}{
		{"wrong resource", func(o *fhir.Observation) { o.ResourceType = "Patient" }, CodeWrongResource},
		{"no code", func(o *fhir.Observation) { o.Code = fhir.CodeableConcept{} }, CodeMissingCode},
		{"no value", func(o *fhir.Observation) { o.ValueQuantity = nil }, CodeMissingValue},
		{"empty quantity", func(o *fhir.Observation) { o.ValueQuantity = &fhir.Quantity{Unit: "mg/dL"} }, CodeMissingValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := glucoseObservation()
			tt.mutate(&obs)

			_, err := NewObservationMapper().MapObservation(&obs)
			var me *MapError
			if !errors.As(err, &me) || me.Code != tt.code {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}

	if _, err := NewObservationMapper().MapObservation(nil); err == nil {
		t.Error("expected error for nil observation")
	}
}

func TestMapObservations(t *testing.T) {
	first := glucoseObservation()
	second := glucoseObservation()
	second.Code = fhir.CodeableConcept{Text: "HbA1c"}
	later := first.EffectiveDateTime.Add(time.Hour)
	second.EffectiveDateTime = &later
	second.Category = []fhir.CodeableConcept{{Coding: []fhir.Coding{{System: fhir.SystemObservationCategory, Code: "chemistry"}}}}
	cancelled := glucoseObservation()
	cancelled.Status = fhir.ObservationEnteredInError

	result, err := NewObservationMapper().MapObservations([]fhir.Observation{first, cancelled, second})
	if err != nil {
		t.Fatalf("MapObservations: %v", err)
	}

	if len(result.Inputs) != 2 || result.Skipped != 1 {
		t.Fatalf("inputs = %d, skipped = %d", len(result.Inputs), result.Skipped)
	}
	if result.Inputs[1].Name != "HbA1c" || result.Inputs[1].Category != "chemistry" {
		t.Errorf("second input = %+v", result.Inputs[1])
	}
	if result.PatientID != "pat-001" {
		t.Errorf("patient = %q", result.PatientID)
	}
	if !result.CollectedAt.Equal(later) {
		t.Errorf("collected at = %v, want %v", result.CollectedAt, later)
	}
}

func TestMapObservationsRejectsMixedSubjects(t *testing.T) {
	first := glucoseObservation()
	second := glucoseObservation()
	second.Subject = &fhir.Reference{Reference: "Patient/pat-002"}

	_, err := NewObservationMapper().MapObservations([]fhir.Observation{first, second})
	var me *MapError
	if !errors.As(err, &me) || me.Code != CodeSubjectMismatch {
		t.Fatalf("expected subject mismatch, got %v", err)
	}
}

func TestMapObservationsWrapsIndex(t *testing.T) {
	bad := glucoseObservation()
	bad.ValueQuantity = nil

	_, err := NewObservationMapper().MapObservations([]fhir.Observation{glucoseObservation(), bad})
	var me *MapError
	if !errors.As(err, &me) {
		t.Fatalf("expected MapError, got %v", err)
	}
	if me.Field != "observations[1]" || me.Code != CodeMissingValue {
		t.Errorf("error = %+v", me)
	}
}
