// Package metrics provides Prometheus metrics for the lab analytics services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/labinsight/internal/analysis"
)

// Analysis kinds used as the kind label
const (
	KindSummary  = "summary"
	KindOutliers = "outliers"
	KindRisk     = "risk"
	KindTrend    = "trend"
	KindInsights = "insights"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	AnalysesTotal         *prometheus.CounterVec
	AnalysisDuration      *prometheus.HistogramVec
	StageFailures         *prometheus.CounterVec
	AbnormalMarkers       prometheus.Counter
	OutliersDetected      prometheus.Counter
	PanelsRecorded        prometheus.Counter
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	InboxDuplicates       prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_analyses_total",
			Help: "Total analyses run by kind and outcome",
		}, []string{"kind", "outcome"}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lab_analysis_duration_seconds",
			Help:    "Analysis duration by kind",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"kind"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_analysis_stage_failures_total",
			Help: "Insight aggregation stage failures by stage",
		}, []string{"stage"}),
		AbnormalMarkers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lab_abnormal_markers_total",
			Help: "Total markers flagged outside their reference range",
		}),
		OutliersDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lab_outliers_detected_total",
			Help: "Total statistical outliers detected",
		}),
		PanelsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lab_panels_recorded_total",
			Help: "Total panels recorded to history",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		InboxDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inbox_duplicate_messages_total",
			Help: "Messages skipped because they were already processed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.StageFailures,
		m.AbnormalMarkers,
		m.OutliersDetected,
		m.PanelsRecorded,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.InboxDuplicates,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveAnalysis records the outcome and duration of one analysis
func (m *Metrics) ObserveAnalysis(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.AnalysesTotal.WithLabelValues(kind, outcome).Inc()
	m.AnalysisDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// ObserveInsights records the findings and stage failures of an insight report
func (m *Metrics) ObserveInsights(report *analysis.InsightReport) {
	if m == nil || report == nil {
		return
	}
	m.AbnormalMarkers.Add(float64(report.ExecutiveSummary.AbnormalMarkersCount))
	m.OutliersDetected.Add(float64(report.ExecutiveSummary.OutliersDetected))
	for _, f := range report.Failures {
		m.StageFailures.WithLabelValues(string(f.Stage)).Inc()
	}
}

// ObserveBreakerState records a circuit breaker state as 0 closed, 1 half-open, 2 open
func (m *Metrics) ObserveBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// IncPanelsRecorded counts a panel written to history
func (m *Metrics) IncPanelsRecorded() {
	if m == nil {
		return
	}
	m.PanelsRecorded.Inc()
}

// IncProduced counts a produced Kafka message
func (m *Metrics) IncProduced() {
	if m == nil {
		return
	}
	m.KafkaMessagesProduced.Inc()
}

// IncConsumed counts a consumed Kafka message
func (m *Metrics) IncConsumed() {
	if m == nil {
		return
	}
	m.KafkaMessagesConsumed.Inc()
}

// IncInboxDuplicates counts a message skipped by the inbox
func (m *Metrics) IncInboxDuplicates() {
	if m == nil {
		return
	}
	m.InboxDuplicates.Inc()
}

// SetOutboxPending records the number of pending outbox entries
func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
