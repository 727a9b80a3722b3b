package analysis

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/drfirst/labinsight/internal/domain/labs"
)

// ConditionDefinition names a condition and the marker keywords that count towards it
type ConditionDefinition struct {
	Name    string   `mapstructure:"name" json:"name"`
	Markers []string `mapstructure:"markers" json:"markers"`
}

// RiskAssessment is the risk computed for one condition
type RiskAssessment struct {
	Condition      string  `json:"condition"`
	RiskPercentage float64 `json:"risk_percentage"`
	RiskLevel      Level   `json:"risk_level"`
	// MarkersEvaluated names the matched markers in set order, as submitted.
	// Duplicates are kept.
	MarkersEvaluated []string `json:"markers_evaluated"`
	AbnormalMarkers  int      `json:"abnormal_markers"`
	TotalMarkers     int      `json:"total_markers"`
}

// Recommendation is a prioritized follow-up action
type Recommendation struct {
	Category string `json:"category"`
	Priority Level  `json:"priority"`
	Action   string `json:"action"`
	Details  string `json:"details"`
}

// RiskReport is the result of ScoreRisk
type RiskReport struct {
	OverallHealthScore float64          `json:"overall_health_score"`
	Assessments        []RiskAssessment `json:"risk_assessments"`
	Recommendations    []Recommendation `json:"recommendations"`
	// HealthScoreDefaulted is set when no condition matched and the score is
	// DefaultHealthScore.
	HealthScoreDefaulted bool `json:"health_score_defaulted"`
}

// NormalizeMarkerName lowercases name and replaces spaces and hyphens with underscores
func NormalizeMarkerName(name string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(name))
}

// matchesCondition reports whether any keyword is a substring of the
// normalized name. Substring matching is loose: "protein" also matches
// "c_reactive_protein".
func matchesCondition(normalized string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(normalized, k) {
			return true
		}
	}
	return false
}

// ScoreRisk evaluates each configured condition against the markers whose
// names match its keywords. Conditions without matches are omitted.
func (e *Engine) ScoreRisk(set *labs.ValueSet) (*RiskReport, error) {
	if set == nil {
		return nil, ErrNilValueSet
	}

	measurements := set.Measurements()
	normalized := make([]string, len(measurements))
	for i, m := range measurements {
		normalized[i] = NormalizeMarkerName(m.Name)
	}

	report := &RiskReport{
		Assessments:     []RiskAssessment{},
		Recommendations: []Recommendation{},
	}

	for _, cond := range e.conditions {
		var (
			abnormal int
			matched  []string
		)
		for i, m := range measurements {
			if !matchesCondition(normalized[i], cond.Markers) {
				continue
			}
			matched = append(matched, m.Name)
			if m.IsAbnormal() {
				abnormal++
			}
		}
		total := len(matched)
		if total == 0 {
			continue
		}

		pct := float64(abnormal) / float64(total) * 100
		report.Assessments = append(report.Assessments, RiskAssessment{
			Condition:        cond.Name,
			RiskPercentage:   pct,
			RiskLevel:        riskLevel(pct),
			MarkersEvaluated: matched,
			AbnormalMarkers:  abnormal,
			TotalMarkers:     total,
		})
	}

	report.OverallHealthScore, report.HealthScoreDefaulted = healthScore(report.Assessments)
	report.Recommendations = recommendations(report.Assessments)
	return report, nil
}

func riskLevel(pct float64) Level {
	switch {
	case pct < ModerateRiskPercentage:
		return LevelLow
	case pct < HighRiskPercentage:
		return LevelModerate
	default:
		return LevelHigh
	}
}

func healthScore(assessments []RiskAssessment) (float64, bool) {
	if len(assessments) == 0 {
		return DefaultHealthScore, true
	}
	var sum float64
	for _, a := range assessments {
		sum += a.RiskPercentage
	}
	score := maxHealthScore - sum/float64(len(assessments))
	if score < 0 {
		score = 0
	}
	// ties round half away from zero on the decimal value, so x.x5 scores
	// always round up rather than following the float's binary expansion
	return decimal.NewFromFloat(score).Round(1).InexactFloat64(), false
}

func recommendations(assessments []RiskAssessment) []Recommendation {
	out := []Recommendation{}
	anyHigh := false
	for _, a := range assessments {
		switch a.RiskLevel {
		case LevelHigh:
			anyHigh = true
			out = append(out, Recommendation{
				Category: a.Condition,
				Priority: LevelHigh,
				Action:   fmt.Sprintf("Immediate consultation recommended for %s risk factors", a.Condition),
				Details:  fmt.Sprintf("%d out of %d markers abnormal", a.AbnormalMarkers, a.TotalMarkers),
			})
		case LevelModerate:
			out = append(out, Recommendation{
				Category: a.Condition,
				Priority: LevelModerate,
				Action:   fmt.Sprintf("Monitor and lifestyle modifications for %s health", a.Condition),
				Details:  fmt.Sprintf("Some %s markers outside optimal ranges", a.Condition),
			})
		}
	}
	if !anyHigh {
		out = append(out, Recommendation{
			Category: "general",
			Priority: LevelLow,
			Action:   "Continue healthy lifestyle practices",
			Details:  "Most health markers within acceptable ranges",
		})
	}
	return out
}
