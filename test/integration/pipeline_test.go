// Package integration runs a FHIR lab bundle through resolution, analysis
// and history end to end.
package integration

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/domain/labs"
	fhir "github.com/drfirst/labinsight/internal/fhir/r5"
	"github.com/drfirst/labinsight/internal/history"
	"github.com/drfirst/labinsight/internal/ingest"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
)

func loadBundle(t *testing.T) *fhir.Bundle {
	t.Helper()
	data, err := os.ReadFile("../fixtures/lab_panel_bundle.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return &bundle
}

func TestBundlePipeline(t *testing.T) {
	engine, err := config.NewEngine("")
	if err != nil {
		t.Fatalf("config.NewEngine() error = %v", err)
	}

	panel, err := ingest.NewResolver("integration").Resolve(&ingest.Submission{Bundle: loadBundle(t)})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if panel.PatientID != "pat-100" || panel.PatientName != "Marta Silva" {
		t.Errorf("patient = %q %q", panel.PatientID, panel.PatientName)
	}
	if panel.Values.Len() != 6 || panel.Skipped != 1 {
		t.Errorf("values = %d, skipped = %d", panel.Values.Len(), panel.Skipped)
	}
	if want := time.Date(2026, 4, 10, 8, 15, 0, 0, time.UTC); !panel.CollectedAt.Equal(want) {
		t.Errorf("collected at = %v, want %v", panel.CollectedAt, want)
	}

	report := engine.AggregateInsights(panel.Values)
	if err := report.Err(); err != nil {
		t.Fatalf("AggregateInsights() error = %v", err)
	}

	summary := report.ExecutiveSummary
	if summary.AbnormalMarkersCount != 2 || summary.OutliersDetected != 0 || summary.HighRiskAreas != 2 {
		t.Errorf("executive summary = %+v", summary)
	}
	if summary.OverallHealthScore == nil || math.Abs(*summary.OverallHealthScore-70) > 1e-9 {
		t.Errorf("health score = %v, want 70", summary.OverallHealthScore)
	}
	if len(report.ActionableInsights) != 1 || report.ActionableInsights[0].Priority != analysis.LevelHigh {
		t.Errorf("actionable insights = %+v", report.ActionableInsights)
	}

	levels := map[string]analysis.Level{}
	for _, a := range report.Detailed.Risk.Assessments {
		levels[a.Condition] = a.RiskLevel
	}
	want := map[string]analysis.Level{
		"cardiovascular": analysis.LevelHigh,
		"diabetes":       analysis.LevelHigh,
		"liver":          analysis.LevelLow,
		"kidney":         analysis.LevelLow,
		"thyroid":        analysis.LevelLow,
	}
	if len(levels) != len(want) {
		t.Errorf("assessed conditions = %v", levels)
	}
	for cond, level := range want {
		if levels[cond] != level {
			t.Errorf("%s risk = %q, want %q", cond, levels[cond], level)
		}
	}
}

func TestBundleHistoryTrend(t *testing.T) {
	engine, err := config.NewEngine("")
	if err != nil {
		t.Fatalf("config.NewEngine() error = %v", err)
	}
	cfg := circuitbreaker.DefaultConfig("history")
	cfg.Ignore = history.IsClientError
	cb, err := circuitbreaker.New(cfg, nil)
	if err != nil {
		t.Fatalf("circuitbreaker.New() error = %v", err)
	}
	memory := history.NewMemoryStore()
	store := history.NewGuardedStore(memory, cb)
	ctx := context.Background()

	panel, err := ingest.NewResolver("integration").Resolve(&ingest.Submission{Bundle: loadBundle(t)})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	events, err := panel.Events(engine.AggregateInsights(panel.Values), "it-1")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if err := store.RecordPanel(ctx, panel.HistoryPanel(), events...); err != nil {
		t.Fatalf("RecordPanel() error = %v", err)
	}

	// two earlier glucose results from plain lab values
	for i, v := range []float64{120, 150} {
		collected := panel.CollectedAt.AddDate(0, 0, -28*(2-i))
		earlier, err := ingest.NewResolver("integration").Resolve(&ingest.Submission{
			PatientID:   "pat-100",
			CollectedAt: &collected,
			LabValues:   []labs.MeasurementInput{{Name: "Glucose", Value: v, Unit: "mg/dL"}},
		})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if err := store.RecordPanel(ctx, earlier.HistoryPanel()); err != nil {
			t.Fatalf("RecordPanel() error = %v", err)
		}
	}

	series, err := store.Series(ctx, "pat-100", "glucose")
	if err != nil {
		t.Fatalf("Series() error = %v", err)
	}
	trend, err := engine.AnalyzeTrend(series, "3_months")
	if err != nil {
		t.Fatalf("AnalyzeTrend() error = %v", err)
	}

	if len(trend.DataPoints) != 3 || trend.Statistics.CurrentValue != 180 {
		t.Errorf("trend = %+v", trend)
	}
	if trend.Statistics.TrendSlope != 30 || trend.Statistics.TrendDirection != analysis.DirectionIncreasing {
		t.Errorf("slope = %v, direction = %s", trend.Statistics.TrendSlope, trend.Statistics.TrendDirection)
	}
	if len(trend.Insights) == 0 || trend.Insights[0].Severity != analysis.SeverityHigh {
		t.Errorf("insights = %+v", trend.Insights)
	}

	if n := len(memory.Events()); n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
}
