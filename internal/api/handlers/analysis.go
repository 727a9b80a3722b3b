// Package handlers provides HTTP handlers for the analytics API.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/api/middleware"
	"github.com/drfirst/labinsight/internal/chart"
	"github.com/drfirst/labinsight/internal/domain/labs"
	"github.com/drfirst/labinsight/internal/fhir/mapper"
	"github.com/drfirst/labinsight/internal/history"
	"github.com/drfirst/labinsight/internal/ingest"
	"github.com/drfirst/labinsight/internal/observability/metrics"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
)

// maxBodyBytes bounds request bodies; bundles with many observations fit well under it
const maxBodyBytes = 4 << 20

// AnalysisHandler serves the lab analysis endpoints
type AnalysisHandler struct {
	engine   *analysis.Engine
	resolver *ingest.Resolver
	store    history.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewAnalysisHandler creates a handler. m may be nil.
func NewAnalysisHandler(engine *analysis.Engine, store history.Store, m *metrics.Metrics, logger *zap.Logger) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisHandler{
		engine:   engine,
		resolver: ingest.NewResolver("api"),
		store:    store,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("analysis-handler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Routes returns the handler routes
func (h *AnalysisHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/analyze-labs", h.AnalyzeLabs)
	r.Post("/detect-outliers", h.DetectOutliers)
	r.Post("/risk-assessment", h.RiskAssessment)
	r.Post("/generate-insights", h.GenerateInsights)
	r.Post("/biomarker-trends", h.BiomarkerTrends)
	r.Get("/patients/{patientID}/biomarkers/{biomarker}/chart", h.TrendChart)
	return r
}

// PatientInfo identifies the patient of an analysis
type PatientInfo struct {
	PatientID    string    `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	AnalysisDate time.Time `json:"analysis_date"`
	TotalMarkers int       `json:"total_markers"`
}

// InsightsPatientInfo identifies the patient of an insight report
type InsightsPatientInfo struct {
	PatientID            string    `json:"patient_id"`
	PatientName          string    `json:"patient_name"`
	AnalysisDate         time.Time `json:"analysis_date"`
	TotalMarkersAnalyzed int       `json:"total_markers_analyzed"`
}

// SummaryResponse is the data of POST /analyze-labs
type SummaryResponse struct {
	PatientInfo PatientInfo `json:"patient_info"`
	*analysis.SummaryReport
}

// RiskResponse is the data of POST /risk-assessment
type RiskResponse struct {
	PatientID string `json:"patient_id"`
	*analysis.RiskReport
	AssessmentDate time.Time `json:"assessment_date"`
}

// InsightsResponse is the data of POST /generate-insights
type InsightsResponse struct {
	PatientInfo InsightsPatientInfo `json:"patient_info"`
	*analysis.InsightReport
	HistoryRecorded bool `json:"history_recorded"`
}

// TrendRequest is the body of POST /biomarker-trends
type TrendRequest struct {
	PatientID  string `json:"patient_id"`
	Biomarker  string `json:"biomarker"`
	TimePeriod string `json:"time_period"`
}

// AnalyzeLabs handles POST /analyze-labs
func (h *AnalysisHandler) AnalyzeLabs(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "analyze_labs")
	defer span.End()
	started := time.Now()

	panel, ok := h.resolve(w, r, span)
	if !ok {
		return
	}

	report, err := analysis.Summarize(panel.Values)
	h.metrics.ObserveAnalysis(metrics.KindSummary, started, err)
	if err != nil {
		h.writeError(ctx, w, span, &analysis.StageError{Stage: analysis.StageSummary, Err: err})
		return
	}

	h.jsonResponse(w, http.StatusOK, &SummaryResponse{
		PatientInfo: PatientInfo{
			PatientID:    panel.PatientID,
			PatientName:  panel.PatientName,
			AnalysisDate: h.now(),
			TotalMarkers: panel.Values.Len(),
		},
		SummaryReport: report,
	})
}

// DetectOutliers handles POST /detect-outliers
func (h *AnalysisHandler) DetectOutliers(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "detect_outliers")
	defer span.End()
	started := time.Now()

	panel, ok := h.resolve(w, r, span)
	if !ok {
		return
	}

	report, err := analysis.DetectOutliers(panel.Values)
	h.metrics.ObserveAnalysis(metrics.KindOutliers, started, err)
	if err != nil {
		h.writeError(ctx, w, span, &analysis.StageError{Stage: analysis.StageOutlier, Err: err})
		return
	}
	span.SetAttributes(attribute.Int("outlier_count", len(report.Outliers)))

	h.jsonResponse(w, http.StatusOK, report)
}

// RiskAssessment handles POST /risk-assessment
func (h *AnalysisHandler) RiskAssessment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "risk_assessment")
	defer span.End()
	started := time.Now()

	panel, ok := h.resolve(w, r, span)
	if !ok {
		return
	}

	report, err := h.engine.ScoreRisk(panel.Values)
	h.metrics.ObserveAnalysis(metrics.KindRisk, started, err)
	if err != nil {
		h.writeError(ctx, w, span, &analysis.StageError{Stage: analysis.StageRisk, Err: err})
		return
	}

	h.jsonResponse(w, http.StatusOK, &RiskResponse{
		PatientID:      panel.PatientID,
		RiskReport:     report,
		AssessmentDate: h.now(),
	})
}

// GenerateInsights handles POST /generate-insights. Panels with a patient id
// are recorded to history together with their events. A report is returned
// as long as at least one stage succeeded.
func (h *AnalysisHandler) GenerateInsights(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "generate_insights")
	defer span.End()
	started := time.Now()

	panel, ok := h.resolve(w, r, span)
	if !ok {
		return
	}

	report := h.engine.AggregateInsights(panel.Values)
	h.metrics.ObserveAnalysis(metrics.KindInsights, started, report.Err())
	h.metrics.ObserveInsights(report)

	if len(report.Failures) == len(analysis.AggregatedStages) {
		h.writeError(ctx, w, span, report.Err())
		return
	}
	if err := report.Err(); err != nil {
		span.RecordError(err)
		h.logger.Warn("insight stages failed",
			zap.String("panel_id", panel.ID),
			zap.Error(err),
		)
	}

	resp := &InsightsResponse{
		PatientInfo: InsightsPatientInfo{
			PatientID:            panel.PatientID,
			PatientName:          panel.PatientName,
			AnalysisDate:         h.now(),
			TotalMarkersAnalyzed: panel.Values.Len(),
		},
		InsightReport: report,
	}
	if panel.PatientID != "" {
		resp.HistoryRecorded = h.record(ctx, span, panel, report)
	}

	h.jsonResponse(w, http.StatusOK, resp)
}

// BiomarkerTrends handles POST /biomarker-trends
func (h *AnalysisHandler) BiomarkerTrends(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "biomarker_trends")
	defer span.End()

	var req TrendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	report, err := h.trend(ctx, span, req)
	if err != nil {
		h.writeError(ctx, w, span, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, report)
}

// TrendChart handles GET /patients/{patientID}/biomarkers/{biomarker}/chart
func (h *AnalysisHandler) TrendChart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "trend_chart")
	defer span.End()

	report, err := h.trend(ctx, span, TrendRequest{
		PatientID:  chi.URLParam(r, "patientID"),
		Biomarker:  chi.URLParam(r, "biomarker"),
		TimePeriod: r.URL.Query().Get("period"),
	})
	if err != nil {
		h.writeError(ctx, w, span, err)
		return
	}

	var buf bytes.Buffer
	if err := chart.Render(&buf, report); err != nil {
		h.writeError(ctx, w, span, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *AnalysisHandler) trend(ctx context.Context, span trace.Span, req TrendRequest) (*analysis.TrendReport, error) {
	started := time.Now()
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Biomarker = strings.TrimSpace(req.Biomarker)

	if req.PatientID == "" {
		return nil, labs.NewValidationError(-1, "patient_id", ingest.CodeMissingPatient, "patient_id is required")
	}
	if req.Biomarker == "" {
		return nil, labs.NewValidationError(-1, "biomarker", labs.CodeEmptyBiomarker, "biomarker is required")
	}
	span.SetAttributes(
		attribute.String("biomarker", req.Biomarker),
		attribute.String("time_period", req.TimePeriod),
	)

	series, err := h.store.Series(ctx, req.PatientID, req.Biomarker)
	if err != nil {
		return nil, err
	}

	report, err := h.engine.AnalyzeTrend(series, req.TimePeriod)
	h.metrics.ObserveAnalysis(metrics.KindTrend, started, err)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// resolve decodes the submission and builds the value set, writing the
// error response itself when that fails.
func (h *AnalysisHandler) resolve(w http.ResponseWriter, r *http.Request, span trace.Span) (*ingest.Panel, bool) {
	var sub ingest.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sub); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}

	panel, err := h.resolver.Resolve(&sub)
	if err != nil {
		h.writeError(r.Context(), w, span, err)
		return nil, false
	}
	span.SetAttributes(
		attribute.String("panel_id", panel.ID),
		attribute.Int("marker_count", panel.Values.Len()),
	)
	return panel, true
}

func (h *AnalysisHandler) record(ctx context.Context, span trace.Span, panel *ingest.Panel, report *analysis.InsightReport) bool {
	events, err := panel.Events(report, middleware.GetRequestID(ctx))
	if err == nil {
		err = h.store.RecordPanel(ctx, panel.HistoryPanel(), events...)
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("failed to record panel",
			zap.String("panel_id", panel.ID),
			zap.Error(err),
		)
		return false
	}
	h.metrics.IncPanelsRecorded()
	return true
}

// writeError maps err to a status code. Unexpected errors are logged and
// reported without detail.
func (h *AnalysisHandler) writeError(ctx context.Context, w http.ResponseWriter, span trace.Span, err error) {
	span.RecordError(err)

	var (
		mapErr   *mapper.MapError
		stageErr *analysis.StageError
	)
	switch {
	case errors.Is(err, labs.ErrValidation), errors.As(err, &mapErr):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, history.ErrSeriesNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, circuitbreaker.ErrOpen):
		h.jsonError(w, "history store unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &stageErr):
		h.logger.Error("analysis stage failed",
			zap.String("stage", string(stageErr.Stage)),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err),
		)
		h.jsonError(w, fmt.Sprintf("analysis failed: %s stage", stageErr.Stage), http.StatusInternalServerError)
	default:
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err),
		)
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *AnalysisHandler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func (h *AnalysisHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
