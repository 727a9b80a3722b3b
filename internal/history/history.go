// Package history stores recorded lab panels and serves biomarker series for
// trend analysis.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/domain/labs"
)

// ErrSeriesNotFound is returned when a patient has no samples of a biomarker
var ErrSeriesNotFound = errors.New("biomarker series not found")

// ErrInvalidPanel is returned for panels that cannot be stored
var ErrInvalidPanel = errors.New("invalid panel")

// Panel is a set of measurements collected from a patient at one time
type Panel struct {
	ID          string
	PatientID   string
	CollectedAt time.Time
	Source      string
	Inputs      []labs.MeasurementInput
}

// Validate checks the fields required to store a panel
func (p *Panel) Validate() error {
	switch {
	case p == nil:
		return ErrInvalidPanel
	case p.ID == "":
		return errors.Join(ErrInvalidPanel, errors.New("panel id is required"))
	case p.PatientID == "":
		return errors.Join(ErrInvalidPanel, errors.New("patient id is required"))
	case p.CollectedAt.IsZero():
		return errors.Join(ErrInvalidPanel, errors.New("collection time is required"))
	}
	return nil
}

// Store records panels and returns biomarker series. Events passed to
// RecordPanel are persisted atomically with the panel.
type Store interface {
	RecordPanel(ctx context.Context, panel *Panel, events ...*labs.Event) error
	// Series returns every sample of biomarker for the patient, oldest first.
	// Biomarker names are compared after analysis.NormalizeMarkerName.
	Series(ctx context.Context, patientID, biomarker string) (analysis.TimeSeries, error)
}
