package bootstrap

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/history"
	"github.com/drfirst/labinsight/internal/observability/metrics"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
)

func TestOpenHistory_InMemory(t *testing.T) {
	cfg := &config.Config{Port: "8080", WorkerCount: 1}
	breakers := circuitbreaker.NewManager(nil)

	h, err := OpenHistory(context.Background(), cfg, breakers, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	defer h.Close()

	if h.Pool != nil {
		t.Error("in-memory history has a pool")
	}
	if _, ok := h.Store.(*history.GuardedStore); !ok {
		t.Errorf("store = %T, want *history.GuardedStore", h.Store)
	}
	if err := h.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if _, ok := breakers.Get(BreakerHistory); !ok {
		t.Error("history breaker not registered")
	}
}

func TestBreakerConfigReportsState(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	cfg := BreakerConfig(BreakerRedpanda, m)

	cfg.OnStateChange(BreakerRedpanda, circuitbreaker.StateOpen)
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues(BreakerRedpanda)); got != 2 {
		t.Errorf("breaker state gauge = %v, want 2", got)
	}
}

func TestTracingDisabled(t *testing.T) {
	provider, err := Tracing(context.Background(), &config.Config{}, "labinsight-test")
	if err != nil {
		t.Fatalf("Tracing() error = %v", err)
	}
	if provider.Enabled() {
		t.Error("tracing enabled without TRACING_ENABLED")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
