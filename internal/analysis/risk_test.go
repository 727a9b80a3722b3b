package analysis

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/drfirst/labinsight/internal/domain/labs"
)

func TestNormalizeMarkerName(t *testing.T) {
	tests := map[string]string{
		"Glucose":            "glucose",
		"HbA1c Level-2":      "hba1c_level_2",
		"C-Reactive Protein": "c_reactive_protein",
		"tnf_alpha":          "tnf_alpha",
	}
	for in, want := range tests {
		if got := NormalizeMarkerName(in); got != want {
			t.Errorf("NormalizeMarkerName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScoreRiskDefaultHealthScore(t *testing.T) {
	e := newTestEngine(t)

	report, err := e.ScoreRisk(mustValueSet(t, ranged("sodium", 200, 135, 145)))
	if err != nil {
		t.Fatalf("ScoreRisk: %v", err)
	}

	if DefaultHealthScore != 85 {
		t.Errorf("DefaultHealthScore = %v, want 85", DefaultHealthScore)
	}
	if report.OverallHealthScore != DefaultHealthScore {
		t.Errorf("health score = %v, want %v", report.OverallHealthScore, DefaultHealthScore)
	}
	if !report.HealthScoreDefaulted {
		t.Error("expected HealthScoreDefaulted")
	}
	if len(report.Assessments) != 0 {
		t.Errorf("expected no assessments, got %+v", report.Assessments)
	}
	want := []Recommendation{{
		Category: "general",
		Priority: LevelLow,
		Action:   "Continue healthy lifestyle practices",
		Details:  "Most health markers within acceptable ranges",
	}}
	if !reflect.DeepEqual(report.Recommendations, want) {
		t.Errorf("recommendations = %+v", report.Recommendations)
	}
}

func TestScoreRiskHighCondition(t *testing.T) {
	e := newTestEngine(t)

	report, err := e.ScoreRisk(mustValueSet(t,
		ranged("Glucose", 130, 70, 99),
		ranged("HbA1c", 5, 4, 5.6),
	))
	if err != nil {
		t.Fatalf("ScoreRisk: %v", err)
	}

	want := []RiskAssessment{{
		Condition:        "diabetes",
		RiskPercentage:   50,
		RiskLevel:        LevelHigh,
		MarkersEvaluated: []string{"Glucose", "HbA1c"},
		AbnormalMarkers:  1,
		TotalMarkers:     2,
	}}
	if !reflect.DeepEqual(report.Assessments, want) {
		t.Fatalf("assessments = %+v", report.Assessments)
	}
	if report.OverallHealthScore != 50 || report.HealthScoreDefaulted {
		t.Errorf("health score = %v", report.OverallHealthScore)
	}
	if len(report.Recommendations) != 1 {
		t.Fatalf("expected only the high-priority recommendation, got %+v", report.Recommendations)
	}
	r := report.Recommendations[0]
	if r.Priority != LevelHigh || r.Action != "Immediate consultation recommended for diabetes risk factors" || r.Details != "1 out of 2 markers abnormal" {
		t.Errorf("recommendation = %+v", r)
	}
}

func TestScoreRiskLevelBoundaries(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name     string
		abnormal int
		total    int
		level    Level
	}{
		{"below moderate", 1, 5, LevelLow},
		{"moderate boundary", 1, 4, LevelModerate},
		{"below high", 2, 5, LevelModerate},
		{"high boundary", 2, 4, LevelHigh},
		{"all abnormal", 3, 3, LevelHigh},
		{"none abnormal", 0, 3, LevelLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs := make([]labs.MeasurementInput, tt.total)
			for i := range inputs {
				value := 1.0
				if i < tt.abnormal {
					value = 3
				}
				inputs[i] = ranged("creatinine", value, 0.5, 1.2)
			}

			report, err := e.ScoreRisk(mustValueSet(t, inputs...))
			if err != nil {
				t.Fatalf("ScoreRisk: %v", err)
			}
			if len(report.Assessments) != 1 {
				t.Fatalf("expected kidney only, got %+v", report.Assessments)
			}
			a := report.Assessments[0]
			if a.RiskLevel != tt.level {
				t.Errorf("level = %s at %v%%, want %s", a.RiskLevel, a.RiskPercentage, tt.level)
			}
			if a.RiskPercentage < 0 || a.RiskPercentage > 100 {
				t.Errorf("percentage out of bounds: %v", a.RiskPercentage)
			}
			if report.OverallHealthScore < 0 || report.OverallHealthScore > 100 {
				t.Errorf("health score out of bounds: %v", report.OverallHealthScore)
			}
		})
	}
}

func TestScoreRiskModerateKeepsGenericRecommendation(t *testing.T) {
	e := newTestEngine(t)

	report, err := e.ScoreRisk(mustValueSet(t,
		ranged("TSH", 9, 0.4, 4),
		ranged("Free T4", 1.2, 0.8, 1.8),
		ranged("T3", 120, 80, 200),
	))
	if err != nil {
		t.Fatalf("ScoreRisk: %v", err)
	}

	if report.OverallHealthScore != 66.7 {
		t.Errorf("health score = %v, want 66.7", report.OverallHealthScore)
	}
	if len(report.Recommendations) != 2 {
		t.Fatalf("recommendations = %+v", report.Recommendations)
	}
	if report.Recommendations[0].Priority != LevelModerate || report.Recommendations[0].Action != "Monitor and lifestyle modifications for thyroid health" {
		t.Errorf("first recommendation = %+v", report.Recommendations[0])
	}
	if report.Recommendations[1].Priority != LevelLow {
		t.Errorf("second recommendation = %+v", report.Recommendations[1])
	}
}

func TestScoreRiskSubstringMatching(t *testing.T) {
	e := newTestEngine(t)

	// "protein" is a kidney keyword, so CRP spelled out counts towards kidney
	report, err := e.ScoreRisk(mustValueSet(t, ranged("C-Reactive Protein", 12, 0, 3)))
	if err != nil {
		t.Fatalf("ScoreRisk: %v", err)
	}
	if len(report.Assessments) != 1 || report.Assessments[0].Condition != "kidney" {
		t.Errorf("assessments = %+v", report.Assessments)
	}
}

func TestScoreRiskNamesEvaluatedMarkers(t *testing.T) {
	e := newTestEngine(t)

	report, err := e.ScoreRisk(mustValueSet(t,
		ranged("LDL", 250, 0, 200),
		ranged("HDL Cholesterol", 50, 0, 200),
		ranged("Sodium", 140, 135, 145),
		ranged("LDL", 120, 0, 200),
	))
	if err != nil {
		t.Fatalf("ScoreRisk: %v", err)
	}
	if len(report.Assessments) != 1 {
		t.Fatalf("assessments = %+v", report.Assessments)
	}

	a := report.Assessments[0]
	if want := []string{"LDL", "HDL Cholesterol", "LDL"}; !reflect.DeepEqual(a.MarkersEvaluated, want) {
		t.Errorf("markers evaluated = %v, want %v", a.MarkersEvaluated, want)
	}
	if a.TotalMarkers != 3 || a.AbnormalMarkers != 1 {
		t.Errorf("total = %d, abnormal = %d", a.TotalMarkers, a.AbnormalMarkers)
	}

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"markers_evaluated":["LDL","HDL Cholesterol","LDL"]`) {
		t.Errorf("json = %s", data)
	}
}

func TestScoreRiskHealthScoreRoundsTiesUp(t *testing.T) {
	e := newTestEngine(t)

	// diabetes 1 of 8 abnormal (12.5%), kidney 0 of 1: 100 - 6.25 = 93.75
	inputs := []labs.MeasurementInput{ranged("Glucose", 150, 70, 99)}
	for i := 0; i < 7; i++ {
		inputs = append(inputs, ranged("Glucose", 90, 70, 99))
	}
	inputs = append(inputs, ranged("Creatinine", 1.0, 0.6, 1.2))

	report, err := e.ScoreRisk(mustValueSet(t, inputs...))
	if err != nil {
		t.Fatalf("ScoreRisk: %v", err)
	}
	if report.OverallHealthScore != 93.8 {
		t.Errorf("health score = %v, want 93.8", report.OverallHealthScore)
	}
}

func TestScoreRiskFollowsTableOrder(t *testing.T) {
	e := newTestEngine(t)

	// crp matches both cardiovascular and inflammation
	report, err := e.ScoreRisk(mustValueSet(t,
		ranged("esr", 50, 0, 20),
		ranged("alt", 30, 7, 56),
		ranged("crp", 10, 0, 3),
	))
	if err != nil {
		t.Fatalf("ScoreRisk: %v", err)
	}

	var got []string
	for _, a := range report.Assessments {
		got = append(got, a.Condition)
	}
	want := []string{"cardiovascular", "liver", "inflammation"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("conditions = %v, want %v", got, want)
	}

	var high []string
	for _, r := range report.Recommendations {
		high = append(high, r.Category)
	}
	if !reflect.DeepEqual(high, []string{"cardiovascular", "inflammation"}) {
		t.Errorf("recommendation order = %v", high)
	}
}

func TestScoreRiskNilSet(t *testing.T) {
	if _, err := newTestEngine(t).ScoreRisk(nil); !errors.Is(err, ErrNilValueSet) {
		t.Fatalf("expected ErrNilValueSet, got %v", err)
	}
}
