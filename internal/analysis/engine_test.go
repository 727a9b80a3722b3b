package analysis

import (
	"math"
	"testing"

	"github.com/drfirst/labinsight/internal/domain/labs"
)

func testConfig() Config {
	return Config{
		Conditions: []ConditionDefinition{
			{Name: "cardiovascular", Markers: []string{"cholesterol_total", "ldl", "hdl", "triglycerides", "crp", "homocysteine"}},
			{Name: "diabetes", Markers: []string{"glucose", "hba1c", "insulin", "c_peptide"}},
			{Name: "liver", Markers: []string{"alt", "ast", "bilirubin", "albumin", "alp"}},
			{Name: "kidney", Markers: []string{"creatinine", "bun", "egfr", "protein"}},
			{Name: "thyroid", Markers: []string{"tsh", "t4", "t3", "reverse_t3"}},
			{Name: "inflammation", Markers: []string{"crp", "esr", "il6", "tnf_alpha"}},
		},
		Periods: []PeriodDefinition{
			{Token: "1_month", Days: 30},
			{Token: "3_months", Days: 90},
			{Token: "6_months", Days: 180},
			{Token: "1_year", Days: 365},
		},
		DefaultPeriodDays: 180,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func ptr(f float64) *float64 { return &f }

func mustValueSet(t *testing.T, inputs ...labs.MeasurementInput) *labs.ValueSet {
	t.Helper()
	set, err := labs.NewValueSet(inputs)
	if err != nil {
		t.Fatalf("NewValueSet: %v", err)
	}
	return set
}

func ranged(name string, value, low, high float64) labs.MeasurementInput {
	return labs.MeasurementInput{Name: name, Value: value, ReferenceRangeMin: ptr(low), ReferenceRangeMax: ptr(high)}
}

func plain(values ...float64) []labs.MeasurementInput {
	out := make([]labs.MeasurementInput, len(values))
	for i, v := range values {
		out[i] = labs.MeasurementInput{Name: "marker", Value: v}
	}
	return out
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no conditions", Config{}},
		{"blank condition name", Config{Conditions: []ConditionDefinition{{Name: " ", Markers: []string{"x"}}}}},
		{"duplicate condition", Config{Conditions: []ConditionDefinition{
			{Name: "liver", Markers: []string{"alt"}},
			{Name: "liver", Markers: []string{"ast"}},
		}}},
		{"no markers", Config{Conditions: []ConditionDefinition{{Name: "liver"}}}},
		{"blank marker", Config{Conditions: []ConditionDefinition{{Name: "liver", Markers: []string{""}}}}},
		{"zero period days", Config{
			Conditions: []ConditionDefinition{{Name: "liver", Markers: []string{"alt"}}},
			Periods:    []PeriodDefinition{{Token: "1_month", Days: 0}},
		}},
		{"duplicate period", Config{
			Conditions: []ConditionDefinition{{Name: "liver", Markers: []string{"alt"}}},
			Periods:    []PeriodDefinition{{Token: "1_month", Days: 30}, {Token: "1_month", Days: 31}},
		}},
		{"negative default period", Config{
			Conditions:        []ConditionDefinition{{Name: "liver", Markers: []string{"alt"}}},
			DefaultPeriodDays: -1,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPeriodDays(t *testing.T) {
	e := newTestEngine(t)

	tests := map[string]int{
		"1_month":  30,
		"3_months": 90,
		"6_months": 180,
		"1_year":   365,
		"2_weeks":  DefaultPeriodDays,
		"":         DefaultPeriodDays,
	}
	for token, want := range tests {
		if got := e.PeriodDays(token); got != want {
			t.Errorf("PeriodDays(%q) = %d, want %d", token, got, want)
		}
	}
}

func TestNewEngineNormalizesKeywords(t *testing.T) {
	e, err := NewEngine(Config{Conditions: []ConditionDefinition{{Name: "thyroid", Markers: []string{"Reverse-T3", " Free T4 "}}}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	got := e.Conditions()[0].Markers
	if got[0] != "reverse_t3" || got[1] != "free_t4" {
		t.Errorf("markers = %v", got)
	}
	if e.PeriodDays("1_year") != DefaultPeriodDays {
		t.Errorf("expected default window without period table")
	}
}
