package analysis

import (
	"errors"
	"sync"

	"github.com/drfirst/labinsight/internal/domain/labs"
)

// ExecutiveSummary condenses the sub-reports of an insight report
type ExecutiveSummary struct {
	// OverallHealthScore is nil when the risk stage failed
	OverallHealthScore   *float64 `json:"overall_health_score"`
	AbnormalMarkersCount int      `json:"abnormal_markers_count"`
	OutliersDetected     int      `json:"outliers_detected"`
	HighRiskAreas        int      `json:"high_risk_areas"`
	TotalMarkersAnalyzed int      `json:"total_markers_analyzed"`
}

// ActionableInsight is a prioritized finding derived from the sub-reports
type ActionableInsight struct {
	Priority Level  `json:"priority"`
	Insight  string `json:"insight"`
	Action   string `json:"action"`
}

// StageFailure reports a stage that produced no result
type StageFailure struct {
	Stage Stage  `json:"stage"`
	Error string `json:"error"`
}

// DetailedAnalysis holds the sub-reports. A nil report means its stage failed.
type DetailedAnalysis struct {
	Summary  *SummaryReport `json:"statistical_analysis"`
	Outliers *OutlierReport `json:"outlier_detection"`
	Risk     *RiskReport    `json:"risk_assessment"`
}

// InsightReport is the result of AggregateInsights
type InsightReport struct {
	ExecutiveSummary        ExecutiveSummary    `json:"executive_summary"`
	Detailed                DetailedAnalysis    `json:"detailed_analysis"`
	ActionableInsights      []ActionableInsight `json:"actionable_insights"`
	FollowUpRecommendations []string            `json:"follow_up_recommendations"`
	Failures                []StageFailure      `json:"failures,omitempty"`

	err error
}

// Err joins the stage errors of the report, or returns nil
func (r *InsightReport) Err() error {
	return r.err
}

// AggregateInsights runs the summary, outlier and risk stages concurrently and
// merges their results. A failing stage is recorded in Failures and the
// results of the other stages are kept.
func (e *Engine) AggregateInsights(set *labs.ValueSet) *InsightReport {
	var (
		wg                              sync.WaitGroup
		summary                         *SummaryReport
		outliers                        *OutlierReport
		risk                            *RiskReport
		summaryErr, outlierErr, riskErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		summary, summaryErr = runStage(StageSummary, func() (*SummaryReport, error) { return e.summarize(set) })
	}()
	go func() {
		defer wg.Done()
		outliers, outlierErr = runStage(StageOutlier, func() (*OutlierReport, error) { return e.detectOutliers(set) })
	}()
	go func() {
		defer wg.Done()
		risk, riskErr = runStage(StageRisk, func() (*RiskReport, error) { return e.scoreRisk(set) })
	}()
	wg.Wait()

	report := &InsightReport{
		Detailed:                DetailedAnalysis{Summary: summary, Outliers: outliers, Risk: risk},
		ActionableInsights:      []ActionableInsight{},
		FollowUpRecommendations: append([]string(nil), FollowUpRecommendations...),
	}
	report.ExecutiveSummary.TotalMarkersAnalyzed = set.Len()

	var errs []error
	for _, err := range []error{summaryErr, outlierErr, riskErr} {
		if err == nil {
			continue
		}
		errs = append(errs, err)
		var se *StageError
		if errors.As(err, &se) {
			report.Failures = append(report.Failures, StageFailure{Stage: se.Stage, Error: se.Err.Error()})
		}
	}
	report.err = errors.Join(errs...)

	if summary != nil {
		report.ExecutiveSummary.AbnormalMarkersCount = len(summary.AbnormalMarkers)
	}
	if outliers != nil {
		report.ExecutiveSummary.OutliersDetected = len(outliers.Outliers)
	}
	if risk != nil {
		score := risk.OverallHealthScore
		report.ExecutiveSummary.OverallHealthScore = &score
		for _, a := range risk.Assessments {
			if a.RiskLevel == LevelHigh {
				report.ExecutiveSummary.HighRiskAreas++
			}
		}
	}

	if report.ExecutiveSummary.HighRiskAreas > 0 {
		report.ActionableInsights = append(report.ActionableInsights, ActionableInsight{
			Priority: LevelHigh,
			Insight:  "Multiple high-risk areas identified requiring immediate attention",
			Action:   "Schedule comprehensive medical evaluation within 1-2 weeks",
		})
	}
	if report.ExecutiveSummary.OutliersDetected > OutlierInsightCount {
		report.ActionableInsights = append(report.ActionableInsights, ActionableInsight{
			Priority: LevelModerate,
			Insight:  "Several biomarkers show unusual patterns",
			Action:   "Repeat testing to confirm values and investigate underlying causes",
		})
	}
	return report
}
