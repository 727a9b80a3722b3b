package ingest

import (
	"fmt"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/domain/labs"
)

// Events builds the PanelRecorded and InsightsGenerated events of an
// analyzed panel. Events carry the patient hash, never the patient id.
func (p *Panel) Events(report *analysis.InsightReport, correlationID string) ([]*labs.Event, error) {
	patientHash := labs.HashPatientID(p.PatientID)

	recorded, err := labs.NewEvent(p.ID, labs.EventPanelRecorded, &labs.PanelRecordedData{
		PanelID:     p.ID,
		PatientHash: patientHash,
		MarkerCount: p.Values.Len(),
		CollectedAt: p.CollectedAt,
		Source:      p.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s event: %w", labs.EventPanelRecorded, err)
	}
	events := []*labs.Event{recorded.WithAuditInfo(patientHash, correlationID)}

	if report == nil {
		return events, nil
	}

	data := &labs.InsightsGeneratedData{
		PanelID:            p.ID,
		PatientHash:        patientHash,
		OverallHealthScore: report.ExecutiveSummary.OverallHealthScore,
		AbnormalMarkers:    report.ExecutiveSummary.AbnormalMarkersCount,
		OutliersDetected:   report.ExecutiveSummary.OutliersDetected,
		HighRiskAreas:      report.ExecutiveSummary.HighRiskAreas,
		GeneratedAt:        recorded.Timestamp,
	}
	for _, f := range report.Failures {
		data.FailedStages = append(data.FailedStages, string(f.Stage))
	}
	generated, err := labs.NewEvent(p.ID, labs.EventInsightsGenerated, data)
	if err != nil {
		return nil, fmt.Errorf("build %s event: %w", labs.EventInsightsGenerated, err)
	}
	return append(events, generated.WithAuditInfo(patientHash, correlationID)), nil
}
