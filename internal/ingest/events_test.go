package ingest

import (
	"encoding/json"
	"testing"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/domain/labs"
)

func TestPanelEvents(t *testing.T) {
	sub := decode(t, `{
		"patient_id": "p-9",
		"lab_values": [{"name": "Glucose", "value": 130, "reference_range_min": 70, "reference_range_max": 99}]
	}`)
	panel, err := newTestResolver().Resolve(sub)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	score := 72.5
	report := &analysis.InsightReport{
		ExecutiveSummary: analysis.ExecutiveSummary{OverallHealthScore: &score, AbnormalMarkersCount: 1},
		Failures:         []analysis.StageFailure{{Stage: analysis.StageOutlier, Error: "boom"}},
	}

	events, err := panel.Events(report, "req-1")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].EventType != labs.EventPanelRecorded || events[1].EventType != labs.EventInsightsGenerated {
		t.Errorf("event types = %s, %s", events[0].EventType, events[1].EventType)
	}

	hash := labs.HashPatientID("p-9")
	for _, e := range events {
		if e.AggregateID != "generated-id" || e.PatientHash != hash || e.CorrelationID != "req-1" {
			t.Errorf("event audit = %+v", e)
		}
	}

	var data labs.InsightsGeneratedData
	if err := json.Unmarshal(events[1].EventData, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.OverallHealthScore == nil || *data.OverallHealthScore != 72.5 {
		t.Errorf("health score = %v", data.OverallHealthScore)
	}
	if len(data.FailedStages) != 1 || data.FailedStages[0] != string(analysis.StageOutlier) {
		t.Errorf("failed stages = %v", data.FailedStages)
	}
}

func TestPanelEvents_WithoutReport(t *testing.T) {
	panel, err := newTestResolver().Resolve(decode(t, `{"patient_id": "p-9", "lab_values": []}`))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	events, err := panel.Events(nil, "")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 || events[0].EventType != labs.EventPanelRecorded {
		t.Errorf("events = %+v", events)
	}
}
