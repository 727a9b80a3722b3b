package history

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/domain/labs"
)

// MemoryStore is a process-local Store used when no database is configured
type MemoryStore struct {
	mu     sync.RWMutex
	panels map[string]*Panel
	// samples by patient, then normalized biomarker
	samples map[string]map[string][]analysis.Point
	events  []*labs.Event
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		panels:  make(map[string]*Panel),
		samples: make(map[string]map[string][]analysis.Point),
	}
}

// RecordPanel stores the panel. Recording the same panel id twice is a no-op.
func (s *MemoryStore) RecordPanel(ctx context.Context, panel *Panel, events ...*labs.Event) error {
	if err := panel.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.panels[panel.ID]; ok {
		return nil
	}
	stored := *panel
	stored.Inputs = append([]labs.MeasurementInput(nil), panel.Inputs...)
	s.panels[panel.ID] = &stored

	byMarker, ok := s.samples[panel.PatientID]
	if !ok {
		byMarker = make(map[string][]analysis.Point)
		s.samples[panel.PatientID] = byMarker
	}
	for _, in := range panel.Inputs {
		key := analysis.NormalizeMarkerName(in.Name)
		points := append(byMarker[key], analysis.Point{Time: panel.CollectedAt, Value: in.Value})
		sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
		byMarker[key] = points
	}

	s.events = append(s.events, events...)
	return nil
}

// Series returns a copy of the samples of biomarker for the patient
func (s *MemoryStore) Series(ctx context.Context, patientID, biomarker string) (analysis.TimeSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.samples[patientID][analysis.NormalizeMarkerName(biomarker)]
	if len(points) == 0 {
		return analysis.TimeSeries{}, fmt.Errorf("%s for patient %s: %w", biomarker, patientID, ErrSeriesNotFound)
	}
	return analysis.TimeSeries{
		PatientID: patientID,
		Biomarker: biomarker,
		Points:    append([]analysis.Point(nil), points...),
	}, nil
}

// Events returns the events recorded with panels, oldest first
func (s *MemoryStore) Events() []*labs.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*labs.Event(nil), s.events...)
}

// PanelCount returns the number of stored panels
func (s *MemoryStore) PanelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.panels)
}
