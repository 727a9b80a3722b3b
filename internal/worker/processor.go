// Package worker turns panels consumed from the panel topic into insight
// reports, recording them to history and publishing them downstream.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/domain/labs"
	"github.com/drfirst/labinsight/internal/history"
	"github.com/drfirst/labinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/labinsight/internal/ingest"
	"github.com/drfirst/labinsight/internal/observability/metrics"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
	"github.com/drfirst/labinsight/pkg/idempotency"
)

// HandlerName labels inbox entries written by the processor
const HandlerName = "generate-insights"

// Publisher writes a message to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	// Source labels panels without one and seeds idempotency keys
	Source          string
	ReportTopic     string
	DeadLetterTopic string
}

// DefaultProcessorConfig returns the default topics
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Source:          "kafka",
		ReportTopic:     redpanda.TopicInsightReports,
		DeadLetterTopic: redpanda.TopicDeadLetter,
	}
}

// ReportMessage is published on the report topic for every analyzed panel
type ReportMessage struct {
	PanelID     string                  `json:"panel_id"`
	PatientHash string                  `json:"patient_hash"`
	CollectedAt time.Time               `json:"collected_at"`
	Source      string                  `json:"source"`
	Skipped     int                     `json:"skipped_observations,omitempty"`
	Report      *analysis.InsightReport `json:"report"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// key partitions reports by patient; anonymous panels spread by panel id
func (m *ReportMessage) key() string {
	if m.PatientHash != "" {
		return m.PatientHash
	}
	return m.PanelID
}

// DeadLetter is published for a message that can never be processed
type DeadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	Partition     int32           `json:"partition"`
	Offset        int64           `json:"offset"`
	Key           string          `json:"key,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// Processor analyzes one consumed panel
type Processor struct {
	config    ProcessorConfig
	engine    *analysis.Engine
	resolver  *ingest.Resolver
	inbox     *idempotency.Inbox
	store     history.Store
	publisher Publisher
	breaker   *circuitbreaker.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewProcessor creates a processor. breaker guards the publisher; m may be nil.
func NewProcessor(cfg ProcessorConfig, engine *analysis.Engine, inbox *idempotency.Inbox, store history.Store,
	publisher Publisher, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics, logger *zap.Logger) (*Processor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case engine == nil:
		return nil, errors.New("analysis engine is required")
	case inbox == nil:
		return nil, errors.New("inbox is required")
	case store == nil:
		return nil, errors.New("history store is required")
	case publisher == nil:
		return nil, errors.New("publisher is required")
	case breaker == nil:
		return nil, errors.New("publisher circuit breaker is required")
	case cfg.ReportTopic == "" || cfg.DeadLetterTopic == "":
		return nil, errors.New("report and dead letter topics are required")
	}
	if cfg.Source == "" {
		cfg.Source = "kafka"
	}

	return &Processor{
		config:    cfg,
		engine:    engine,
		resolver:  ingest.NewResolver(cfg.Source),
		inbox:     inbox,
		store:     store,
		publisher: publisher,
		breaker:   breaker,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("insight-worker"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Process handles one message exactly once per idempotency key. Errors
// wrapped with idempotency.Terminal are never retried; any other error may
// succeed on a later attempt.
func (p *Processor) Process(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	ctx, span := p.tracer.Start(ctx, "process_panel",
		trace.WithAttributes(
			attribute.String("topic", msg.Topic),
			attribute.Int64("offset", msg.Offset),
		))
	defer span.End()

	var sub ingest.Submission
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		return idempotency.Terminal(fmt.Errorf("decode submission: %w", err))
	}

	// a panel without an id is named after its position so redelivery maps to the same key
	if sub.PanelID == "" {
		sub.PanelID = fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	}
	collectedAt := msg.Timestamp
	if sub.CollectedAt != nil {
		collectedAt = *sub.CollectedAt
	}
	key := idempotency.GenerateKey(p.config.Source, sub.PatientID, sub.PanelID, collectedAt)
	span.SetAttributes(attribute.String("panel_id", sub.PanelID))

	result, err := p.inbox.Process(ctx, key, HandlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return p.analyze(ctx, &sub, key)
	})
	switch {
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		p.logger.Info("skipping previously failed panel", zap.String("panel_id", sub.PanelID))
		return nil
	case errors.Is(err, idempotency.ErrMessageInProgress), errors.Is(err, idempotency.ErrDuplicateMessage):
		p.metrics.IncInboxDuplicates()
		p.logger.Info("panel already in progress", zap.String("panel_id", sub.PanelID))
		return nil
	case err != nil:
		span.RecordError(err)
		return err
	case result.Duplicate:
		p.metrics.IncInboxDuplicates()
		p.logger.Info("duplicate panel skipped", zap.String("panel_id", sub.PanelID))
		return nil
	}

	p.logger.Info("panel analyzed",
		zap.String("panel_id", sub.PanelID),
		zap.Bool("recovered", result.WasRecovered),
	)
	return nil
}

func (p *Processor) analyze(ctx context.Context, sub *ingest.Submission, correlationID string) (json.RawMessage, error) {
	started := time.Now()

	panel, err := p.resolver.Resolve(sub)
	if err != nil {
		return nil, idempotency.Terminal(fmt.Errorf("resolve panel %s: %w", sub.PanelID, err))
	}

	report := p.engine.AggregateInsights(panel.Values)
	p.metrics.ObserveAnalysis(metrics.KindInsights, started, report.Err())
	p.metrics.ObserveInsights(report)
	if len(report.Failures) == len(analysis.AggregatedStages) {
		return nil, idempotency.Terminal(fmt.Errorf("analyze panel %s: %w", panel.ID, report.Err()))
	}

	if panel.PatientID != "" {
		events, err := panel.Events(report, correlationID)
		if err != nil {
			return nil, err
		}
		if err := p.store.RecordPanel(ctx, panel.HistoryPanel(), events...); err != nil {
			if errors.Is(err, history.ErrInvalidPanel) {
				return nil, idempotency.Terminal(err)
			}
			return nil, fmt.Errorf("record panel %s: %w", panel.ID, err)
		}
		p.metrics.IncPanelsRecorded()
	}

	out := &ReportMessage{
		PanelID:     panel.ID,
		PatientHash: labs.HashPatientID(panel.PatientID),
		CollectedAt: panel.CollectedAt,
		Source:      panel.Source,
		Skipped:     panel.Skipped,
		Report:      report,
		GeneratedAt: p.now(),
	}
	value, err := json.Marshal(out)
	if err != nil {
		return nil, idempotency.Terminal(fmt.Errorf("encode report: %w", err))
	}

	_, err = p.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, p.publisher.Publish(ctx, p.config.ReportTopic, out.key(), value)
	})
	if err != nil {
		return nil, fmt.Errorf("publish report %s: %w", panel.ID, err)
	}
	p.metrics.IncProduced()

	return json.Marshal(map[string]interface{}{
		"panel_id":     panel.ID,
		"report_topic": p.config.ReportTopic,
		"failures":     len(report.Failures),
	})
}

// DeadLetter publishes msg to the dead letter topic with the reason it failed
func (p *Processor) DeadLetter(ctx context.Context, msg *redpanda.ConsumedMessage, cause error) error {
	payload := json.RawMessage(msg.Value)
	if !json.Valid(msg.Value) {
		payload, _ = json.Marshal(string(msg.Value))
	}
	value, err := json.Marshal(&DeadLetter{
		OriginalTopic: msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Key:           string(msg.Key),
		Payload:       payload,
		Error:         cause.Error(),
		FailedAt:      p.now(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := p.publisher.Publish(ctx, p.config.DeadLetterTopic, string(msg.Key), value); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	p.metrics.IncProduced()
	p.logger.Warn("message moved to dead letter",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause),
	)
	return nil
}
