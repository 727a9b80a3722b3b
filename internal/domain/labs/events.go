package labs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventPanelRecorded     EventType = "PanelRecorded"
	EventInsightsGenerated EventType = "InsightsGenerated"
)

// AggregateTypePanel is the aggregate type of every lab event
const AggregateTypePanel = "LabPanel"

// Event represents a domain event about a lab panel
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	PatientHash   string          `json:"patient_hash,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event for the panel with the given id
func NewEvent(panelID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   panelID,
		AggregateType: AggregateTypePanel,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// PanelRecordedData describes a panel stored in history
type PanelRecordedData struct {
	PanelID     string    `json:"panel_id"`
	PatientHash string    `json:"patient_hash"`
	MarkerCount int       `json:"marker_count"`
	CollectedAt time.Time `json:"collected_at"`
	Source      string    `json:"source"`
}

// InsightsGeneratedData summarizes an insight report
type InsightsGeneratedData struct {
	PanelID            string    `json:"panel_id"`
	PatientHash        string    `json:"patient_hash"`
	OverallHealthScore *float64  `json:"overall_health_score"`
	AbnormalMarkers    int       `json:"abnormal_markers"`
	OutliersDetected   int       `json:"outliers_detected"`
	HighRiskAreas      int       `json:"high_risk_areas"`
	FailedStages       []string  `json:"failed_stages,omitempty"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// WithAuditInfo sets audit fields
func (e *Event) WithAuditInfo(patientHash, correlationID string) *Event {
	e.PatientHash = patientHash
	e.CorrelationID = correlationID
	return e
}

// HashPatientID returns a stable pseudonym for a patient id so events never
// carry the identifier itself.
func HashPatientID(patientID string) string {
	if patientID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(patientID))
	return hex.EncodeToString(sum[:16])
}
