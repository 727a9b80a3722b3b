package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/domain/labs"
	"github.com/drfirst/labinsight/internal/history"
)

// HistoryConfig holds configuration for the history store
type HistoryConfig struct {
	// EventTopics maps event types to the topic their outbox entries target.
	// Events of unmapped types are rejected.
	EventTopics map[labs.EventType]string
}

// HistoryStore persists lab panels in Postgres and implements history.Store
type HistoryStore struct {
	pool   *pgxpool.Pool
	config HistoryConfig
	logger *zap.Logger
	tracer trace.Tracer
}

var _ history.Store = (*HistoryStore)(nil)

// NewHistoryStore creates a new history store
func NewHistoryStore(pool *pgxpool.Pool, cfg HistoryConfig, logger *zap.Logger) *HistoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryStore{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("history"),
	}
}

// RecordPanel inserts the panel, its measurements and one outbox entry per
// event in a single transaction. A panel id that already exists is left
// untouched and its events are not written again.
func (s *HistoryStore) RecordPanel(ctx context.Context, panel *history.Panel, events ...*labs.Event) error {
	if err := panel.Validate(); err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "history_record_panel",
		trace.WithAttributes(
			attribute.String("panel_id", panel.ID),
			attribute.Int("marker_count", len(panel.Inputs)),
		))
	defer span.End()

	entries := make([]*OutboxEntry, 0, len(events))
	for _, event := range events {
		topic, ok := s.config.EventTopics[event.EventType]
		if !ok {
			return fmt.Errorf("no topic configured for event %s", event.EventType)
		}
		entry, err := EntryFromEvent(event, topic)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO lab_panels (id, patient_id, collected_at, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, panel.ID, panel.PatientID, panel.CollectedAt, panel.Source)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert panel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("panel already recorded", zap.String("panel_id", panel.ID))
		return nil
	}

	batch := &pgx.Batch{}
	for i, in := range panel.Inputs {
		batch.Queue(`
			INSERT INTO lab_measurements
			(panel_id, position, name, normalized_name, value, unit, reference_min, reference_max, category)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, panel.ID, i, in.Name, analysis.NormalizeMarkerName(in.Name), in.Value, in.Unit,
			in.ReferenceRangeMin, in.ReferenceRangeMax, in.Category)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert measurements: %w", err)
	}

	for _, entry := range entries {
		if err := WriteEntry(ctx, tx, entry); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Series loads every sample of biomarker for the patient, oldest first
func (s *HistoryStore) Series(ctx context.Context, patientID, biomarker string) (analysis.TimeSeries, error) {
	ctx, span := s.tracer.Start(ctx, "history_series",
		trace.WithAttributes(attribute.String("biomarker", biomarker)))
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT p.collected_at, m.value
		FROM lab_measurements m
		INNER JOIN lab_panels p ON m.panel_id = p.id
		WHERE p.patient_id = $1 AND m.normalized_name = $2
		ORDER BY p.collected_at ASC, m.position ASC
	`, patientID, analysis.NormalizeMarkerName(biomarker))
	if err != nil {
		span.RecordError(err)
		return analysis.TimeSeries{}, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	series := analysis.TimeSeries{PatientID: patientID, Biomarker: biomarker}
	for rows.Next() {
		var p analysis.Point
		if err := rows.Scan(&p.Time, &p.Value); err != nil {
			return analysis.TimeSeries{}, fmt.Errorf("scan sample: %w", err)
		}
		series.Points = append(series.Points, p)
	}
	if err := rows.Err(); err != nil {
		return analysis.TimeSeries{}, fmt.Errorf("iterate samples: %w", err)
	}

	if len(series.Points) == 0 {
		return analysis.TimeSeries{}, fmt.Errorf("%s for patient %s: %w", biomarker, patientID, history.ErrSeriesNotFound)
	}
	return series, nil
}

// Ping checks the connection
func (s *HistoryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Join(errors.New("history database unavailable"), err)
	}
	return nil
}
