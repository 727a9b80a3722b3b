package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/drfirst/labinsight/internal/analysis"
)

func TestObserveAnalysis(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveAnalysis(KindSummary, time.Now(), nil)
	m.ObserveAnalysis(KindSummary, time.Now(), errors.New("bad input"))
	m.ObserveAnalysis(KindTrend, time.Now(), nil)

	if got := testutil.ToFloat64(m.AnalysesTotal.WithLabelValues(KindSummary, "success")); got != 1 {
		t.Errorf("summary successes = %v", got)
	}
	if got := testutil.ToFloat64(m.AnalysesTotal.WithLabelValues(KindSummary, "error")); got != 1 {
		t.Errorf("summary errors = %v", got)
	}
	if got := testutil.CollectAndCount(m.AnalysisDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestObserveInsights(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveInsights(&analysis.InsightReport{
		ExecutiveSummary: analysis.ExecutiveSummary{AbnormalMarkersCount: 3, OutliersDetected: 2},
		Failures:         []analysis.StageFailure{{Stage: analysis.StageRisk, Error: "boom"}},
	})

	if got := testutil.ToFloat64(m.AbnormalMarkers); got != 3 {
		t.Errorf("abnormal = %v", got)
	}
	if got := testutil.ToFloat64(m.OutliersDetected); got != 2 {
		t.Errorf("outliers = %v", got)
	}
	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues("risk")); got != 1 {
		t.Errorf("risk failures = %v", got)
	}
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.ObserveAnalysis(KindRisk, time.Now(), nil)
	m.ObserveInsights(&analysis.InsightReport{})
	m.ObserveBreakerState("history", 2)
	m.IncPanelsRecorded()
	m.IncProduced()
	m.IncConsumed()
	m.IncInboxDuplicates()
	m.SetOutboxPending(4)
}
