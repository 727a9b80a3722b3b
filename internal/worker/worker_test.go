package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/domain/labs"
	"github.com/drfirst/labinsight/internal/history"
	"github.com/drfirst/labinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
	"github.com/drfirst/labinsight/pkg/idempotency"
	"github.com/drfirst/labinsight/pkg/workerpool"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	messages []published
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, published{topic: topic, key: key, value: value})
	return nil
}

func (f *fakePublisher) on(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	worker    *Worker
	store     *history.MemoryStore
	publisher *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := config.NewEngine("")
	if err != nil {
		t.Fatalf("config.NewEngine() error = %v", err)
	}
	cb, err := circuitbreaker.New(circuitbreaker.DefaultConfig("redpanda"), nil)
	if err != nil {
		t.Fatalf("circuitbreaker.New() error = %v", err)
	}

	f := &fixture{store: history.NewMemoryStore(), publisher: &fakePublisher{}}
	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.DefaultInboxConfig(), nil)
	processor, err := NewProcessor(DefaultProcessorConfig(), engine, inbox, f.store, f.publisher, cb, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = 2
	poolCfg.RetryDelay = time.Millisecond
	f.worker, err = NewWorker(processor, poolCfg, nil)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	f.worker.Start()
	t.Cleanup(func() { f.worker.Stop() })
	return f
}

func message(offset int64, body string) *redpanda.ConsumedMessage {
	return &redpanda.ConsumedMessage{
		Topic:     redpanda.TopicLabPanels,
		Partition: 0,
		Offset:    offset,
		Key:       []byte("p-1"),
		Value:     []byte(body),
		Timestamp: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

const panelBody = `{
	"panel_id": "panel-1",
	"patient_id": "p-1",
	"collected_at": "2026-03-02T07:45:00Z",
	"lab_values": [
		{"name": "Glucose", "value": 250, "unit": "mg/dL", "reference_range_min": 70, "reference_range_max": 99},
		{"name": "Creatinine", "value": 1.0, "unit": "mg/dL", "reference_range_min": 0.6, "reference_range_max": 1.2}
	]
}`

func TestWorker_ProcessesPanel(t *testing.T) {
	f := newFixture(t)

	if err := f.worker.Handle(context.Background(), message(1, panelBody)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	reports := f.publisher.on(redpanda.TopicInsightReports)
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].key != labs.HashPatientID("p-1") {
		t.Errorf("report key = %q", reports[0].key)
	}
	var msg ReportMessage
	if err := json.Unmarshal(reports[0].value, &msg); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if msg.PanelID != "panel-1" || msg.Source != "kafka" || msg.Report == nil {
		t.Errorf("report message = %+v", msg)
	}
	if msg.Report.ExecutiveSummary.AbnormalMarkersCount != 1 || msg.Report.ExecutiveSummary.TotalMarkersAnalyzed != 2 {
		t.Errorf("executive summary = %+v", msg.Report.ExecutiveSummary)
	}

	if f.store.PanelCount() != 1 || len(f.store.Events()) != 2 {
		t.Errorf("history panels = %d, events = %d", f.store.PanelCount(), len(f.store.Events()))
	}
	series, err := f.store.Series(context.Background(), "p-1", "glucose")
	if err != nil || len(series.Points) != 1 || !series.Points[0].Time.Equal(time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)) {
		t.Errorf("series = %+v, %v", series, err)
	}
}

func TestWorker_DuplicateSkipped(t *testing.T) {
	f := newFixture(t)

	for offset := int64(1); offset <= 2; offset++ {
		if err := f.worker.Handle(context.Background(), message(offset, panelBody)); err != nil {
			t.Fatalf("Handle(%d) error = %v", offset, err)
		}
	}
	if n := len(f.publisher.on(redpanda.TopicInsightReports)); n != 1 {
		t.Errorf("reports = %d, want 1", n)
	}
	if n := len(f.store.Events()); n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
}

func TestWorker_DeadLettersBadMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"lab_values": [`},
		{"invalid measurement", `{"panel_id": "bad-1", "patient_id": "p-1", "lab_values": [{"name": "", "value": 1}]}`},
		{"conflicting sources", `{"panel_id": "bad-2", "lab_values": [{"name": "A", "value": 1}], "bundle": {"resourceType": "Bundle"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.worker.Handle(context.Background(), message(7, tt.body)); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			letters := f.publisher.on(redpanda.TopicDeadLetter)
			if len(letters) != 1 {
				t.Fatalf("dead letters = %d, want 1", len(letters))
			}
			var dl DeadLetter
			if err := json.Unmarshal(letters[0].value, &dl); err != nil {
				t.Fatalf("unmarshal dead letter: %v", err)
			}
			if dl.OriginalTopic != redpanda.TopicLabPanels || dl.Offset != 7 || dl.Error == "" {
				t.Errorf("dead letter = %+v", dl)
			}
			if len(f.publisher.on(redpanda.TopicInsightReports)) != 0 || f.store.PanelCount() != 0 {
				t.Error("bad message produced output")
			}
			if stats := f.worker.Stats(); stats.TasksRetried != 0 {
				t.Errorf("terminal failure was retried %d times", stats.TasksRetried)
			}
		})
	}
}

func TestWorker_FailedPanelNotDeadLetteredTwice(t *testing.T) {
	f := newFixture(t)
	body := `{"panel_id": "bad-1", "patient_id": "p-1", "lab_values": [{"name": "", "value": 1}]}`

	for i := 0; i < 2; i++ {
		if err := f.worker.Handle(context.Background(), message(3, body)); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}
	if n := len(f.publisher.on(redpanda.TopicDeadLetter)); n != 1 {
		t.Errorf("dead letters = %d, want 1", n)
	}
}

func TestWorker_RetriesTransientPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.failures = 1

	if err := f.worker.Handle(context.Background(), message(1, panelBody)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if n := len(f.publisher.on(redpanda.TopicInsightReports)); n != 1 {
		t.Errorf("reports = %d, want 1", n)
	}
	if n := len(f.publisher.on(redpanda.TopicDeadLetter)); n != 0 {
		t.Errorf("dead letters = %d, want 0", n)
	}
	if f.store.PanelCount() != 1 {
		t.Errorf("panels = %d", f.store.PanelCount())
	}
	if stats := f.worker.Stats(); stats.TasksRetried != 1 {
		t.Errorf("retries = %d, want 1", stats.TasksRetried)
	}
}

func TestWorker_PanelWithoutIDNamedByOffset(t *testing.T) {
	f := newFixture(t)
	body := `{"lab_values": [{"name": "Glucose", "value": 92}]}`

	if err := f.worker.Handle(context.Background(), message(42, body)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	reports := f.publisher.on(redpanda.TopicInsightReports)
	if len(reports) != 1 {
		t.Fatalf("reports = %d", len(reports))
	}
	var msg ReportMessage
	if err := json.Unmarshal(reports[0].value, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.PanelID != "labs.panels-0-42" {
		t.Errorf("panel id = %q", msg.PanelID)
	}
	if msg.PatientHash != "" || reports[0].key != "labs.panels-0-42" {
		t.Errorf("anonymous report keyed %q, patient hash %q", reports[0].key, msg.PatientHash)
	}
	if f.store.PanelCount() != 0 {
		t.Error("anonymous panel was recorded to history")
	}
}

func TestNewProcessorValidation(t *testing.T) {
	if _, err := NewProcessor(DefaultProcessorConfig(), nil, nil, nil, nil, nil, nil, nil); err == nil {
		t.Error("expected error for missing dependencies")
	}
}
