package analysis

import (
	"fmt"
	"math"

	"github.com/drfirst/labinsight/internal/domain/labs"
)

// AbnormalMarker is a measurement outside its reference range
type AbnormalMarker struct {
	Index               int       `json:"index"`
	Name                string    `json:"name"`
	Value               float64   `json:"value"`
	Unit                string    `json:"unit"`
	ReferenceRange      string    `json:"reference_range"`
	Deviation           Deviation `json:"deviation"`
	Severity            Severity  `json:"severity"`
	PercentageDeviation float64   `json:"percentage_deviation"`
	// DeviationUndefined is set for zero-width reference ranges, where the
	// percentage deviation has no meaning and is reported as 0.
	DeviationUndefined bool `json:"deviation_undefined,omitempty"`
}

// ValueRange holds the extremes of a set of values
type ValueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StatisticalSummary aggregates all values of a panel
type StatisticalSummary struct {
	MeanValue    float64    `json:"mean_values"`
	StdDeviation float64    `json:"std_deviation"`
	ValueRange   ValueRange `json:"value_range"`
}

// CategoryAnalysis aggregates the measurements of one category
type CategoryAnalysis struct {
	Category      string  `json:"category"`
	MarkerCount   int     `json:"marker_count"`
	AverageValue  float64 `json:"average_value"`
	AbnormalCount int     `json:"abnormal_count"`
}

// RiskIndicator is the single top-level verdict of a summary
type RiskIndicator struct {
	Level          Level  `json:"level"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// SummaryReport is the result of Summarize
type SummaryReport struct {
	TotalMarkers    int                `json:"total_markers"`
	Statistics      StatisticalSummary `json:"statistical_summary"`
	AbnormalMarkers []AbnormalMarker   `json:"abnormal_markers"`
	Categories      []CategoryAnalysis `json:"categories_analysis"`
	RiskIndicators  []RiskIndicator    `json:"risk_indicators"`
}

// Summarize computes panel statistics, flags abnormal markers and rolls them
// up per category and into one risk indicator. An empty set yields zeroed
// statistics and a low indicator.
func Summarize(set *labs.ValueSet) (*SummaryReport, error) {
	if set == nil {
		return nil, ErrNilValueSet
	}

	values := set.Values()
	lo, hi := minMax(values)

	report := &SummaryReport{
		TotalMarkers: set.Len(),
		Statistics: StatisticalSummary{
			MeanValue:    mean(values),
			StdDeviation: populationStdDev(values),
			ValueRange:   ValueRange{Min: lo, Max: hi},
		},
		AbnormalMarkers: []AbnormalMarker{},
		Categories:      []CategoryAnalysis{},
	}

	abnormal := make(map[int]bool)
	for i := 0; i < set.Len(); i++ {
		m := set.At(i)
		if !m.IsAbnormal() {
			continue
		}
		report.AbnormalMarkers = append(report.AbnormalMarkers, assessAbnormal(i, m))
		abnormal[i] = true
	}

	for _, g := range set.Groups() {
		groupValues := make([]float64, 0, len(g.Indices))
		abnormalCount := 0
		for _, i := range g.Indices {
			groupValues = append(groupValues, values[i])
			if abnormal[i] {
				abnormalCount++
			}
		}
		report.Categories = append(report.Categories, CategoryAnalysis{
			Category:      g.Category,
			MarkerCount:   len(g.Indices),
			AverageValue:  mean(groupValues),
			AbnormalCount: abnormalCount,
		})
	}

	report.RiskIndicators = []RiskIndicator{riskIndicator(report.AbnormalMarkers)}
	return report, nil
}

func assessAbnormal(index int, m labs.Measurement) AbnormalMarker {
	low, high := *m.ReferenceMin, *m.ReferenceMax

	marker := AbnormalMarker{
		Index:          index,
		Name:           m.Name,
		Value:          m.Value,
		Unit:           m.Unit,
		ReferenceRange: m.ReferenceRange(),
		Deviation:      DeviationHigh,
		Severity:       SeverityModerate,
	}
	if m.Value < low {
		marker.Deviation = DeviationLow
	}
	if m.Value < low*HighSeverityLowFactor || m.Value > high*HighSeverityHighFactor {
		marker.Severity = SeverityHigh
	}

	midpoint := (low + high) / 2
	halfRange := (high - low) / 2
	if halfRange == 0 {
		marker.DeviationUndefined = true
	} else {
		marker.PercentageDeviation = math.Abs(m.Value-midpoint) / halfRange * 100
	}
	return marker
}

func riskIndicator(markers []AbnormalMarker) RiskIndicator {
	var highCount, moderateCount int
	for _, m := range markers {
		switch m.Severity {
		case SeverityHigh:
			highCount++
		case SeverityModerate:
			moderateCount++
		}
	}

	switch {
	case highCount > 0:
		return RiskIndicator{
			Level:          LevelHigh,
			Description:    fmt.Sprintf("%d markers with significant deviations detected", highCount),
			Recommendation: "Immediate medical consultation recommended",
		}
	case moderateCount > ModerateIndicatorCount:
		return RiskIndicator{
			Level:          LevelModerate,
			Description:    fmt.Sprintf("%d markers outside normal ranges", moderateCount),
			Recommendation: "Follow-up testing and lifestyle modifications suggested",
		}
	default:
		return RiskIndicator{
			Level:          LevelLow,
			Description:    "Most markers within acceptable ranges",
			Recommendation: "Continue current health maintenance practices",
		}
	}
}
