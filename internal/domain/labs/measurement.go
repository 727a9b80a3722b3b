package labs

import (
	"math"
	"strconv"
	"strings"
)

// DefaultCategory is assigned to measurements submitted without a category
const DefaultCategory = "general"

// MeasurementInput is the raw form of a measurement as submitted by a caller
type MeasurementInput struct {
	Name              string   `json:"name"`
	Value             float64  `json:"value"`
	Unit              string   `json:"unit"`
	ReferenceRangeMin *float64 `json:"reference_range_min,omitempty"`
	ReferenceRangeMax *float64 `json:"reference_range_max,omitempty"`
	Category          string   `json:"category,omitempty"`
}

// Measurement is a validated, read-only lab measurement
type Measurement struct {
	Name         string
	Value        float64
	Unit         string
	ReferenceMin *float64
	ReferenceMax *float64
	Category     string
}

// HasReferenceRange reports whether both reference bounds are present
func (m Measurement) HasReferenceRange() bool {
	return m.ReferenceMin != nil && m.ReferenceMax != nil
}

// IsAbnormal reports whether the value falls outside a complete reference range.
// Measurements missing either bound are never abnormal.
func (m Measurement) IsAbnormal() bool {
	if !m.HasReferenceRange() {
		return false
	}
	return m.Value < *m.ReferenceMin || m.Value > *m.ReferenceMax
}

// ReferenceRange formats the reference range as "min-max", or "" when incomplete
func (m Measurement) ReferenceRange() string {
	if !m.HasReferenceRange() {
		return ""
	}
	return formatBound(*m.ReferenceMin) + "-" + formatBound(*m.ReferenceMax)
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (in MeasurementInput) validate(index int) error {
	if isBlank(in.Name) {
		return newValidationError(index, "name", CodeEmptyName, "name is required")
	}
	if !isFinite(in.Value) {
		return newValidationError(index, "value", CodeNonFinite, "value must be a finite number")
	}
	if in.ReferenceRangeMin != nil && !isFinite(*in.ReferenceRangeMin) {
		return newValidationError(index, "reference_range_min", CodeNonFinite, "reference bound must be a finite number")
	}
	if in.ReferenceRangeMax != nil && !isFinite(*in.ReferenceRangeMax) {
		return newValidationError(index, "reference_range_max", CodeNonFinite, "reference bound must be a finite number")
	}
	if in.ReferenceRangeMin != nil && in.ReferenceRangeMax != nil && *in.ReferenceRangeMin > *in.ReferenceRangeMax {
		return newValidationError(index, "reference_range_min", CodeInvertedRange, "reference_range_min exceeds reference_range_max")
	}
	return nil
}

func (in MeasurementInput) toMeasurement() Measurement {
	category := in.Category
	if isBlank(category) {
		category = DefaultCategory
	}
	return Measurement{
		Name:         in.Name,
		Value:        in.Value,
		Unit:         in.Unit,
		ReferenceMin: copyFloat(in.ReferenceRangeMin),
		ReferenceMax: copyFloat(in.ReferenceRangeMax),
		Category:     category,
	}
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// IsFinite reports whether f is neither NaN nor infinite
func IsFinite(f float64) bool { return isFinite(f) }

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
