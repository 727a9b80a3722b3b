package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/labinsight/pkg/circuitbreaker"
)

// readyTimeout bounds all readiness checks of one request
const readyTimeout = 2 * time.Second

// ServiceDescriptor is the body of GET /
type ServiceDescriptor struct {
	Message   string   `json:"message"`
	Version   string   `json:"version"`
	Status    string   `json:"status"`
	Endpoints []string `json:"endpoints"`
}

// Check is a named readiness probe, for example a database ping
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// SystemHandler serves the descriptor, liveness and readiness endpoints
type SystemHandler struct {
	version  string
	breakers *circuitbreaker.Manager
	checks   []Check
	logger   *zap.Logger
	now      func() time.Time
}

// NewSystemHandler creates a handler. breakers may be nil.
func NewSystemHandler(version string, breakers *circuitbreaker.Manager, logger *zap.Logger, checks ...Check) *SystemHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SystemHandler{
		version:  version,
		breakers: breakers,
		checks:   checks,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Root handles GET /
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &ServiceDescriptor{
		Message: "Medical Analytics Service",
		Version: h.version,
		Status:  "running",
		Endpoints: []string{
			"/health",
			"/ready",
			"/metrics",
			"/api/v1/analyze-labs",
			"/api/v1/detect-outliers",
			"/api/v1/biomarker-trends",
			"/api/v1/risk-assessment",
			"/api/v1/generate-insights",
			"/api/v1/patients/{patientID}/biomarkers/{biomarker}/chart",
		},
	})
}

// Health handles GET /health. It never touches dependencies.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now(),
	})
}

// Ready handles GET /ready. The service is ready when every check passes
// and no circuit breaker is open.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	ready := true
	checks := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Probe(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			checks[c.Name] = err.Error()
			ready = false
			continue
		}
		checks[c.Name] = "ok"
	}

	body := map[string]interface{}{
		"status": "ready",
		"checks": checks,
	}
	if h.breakers != nil {
		statuses := h.breakers.GetHealthStatus()
		for _, st := range statuses {
			if st.State == circuitbreaker.StateOpen {
				ready = false
			}
		}
		body["circuit_breakers"] = statuses
	}

	status := http.StatusOK
	if !ready {
		body["status"] = "not ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
