package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/drfirst/labinsight/internal/domain/labs"
)

// EmptyTrendWindowMessage is reported when no sample falls inside the window
const EmptyTrendWindowMessage = "No measurements recorded in the requested period"

// Point is one timestamped biomarker sample
type Point struct {
	Time  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// TimeSeries is the history of one biomarker for one patient
type TimeSeries struct {
	PatientID string  `json:"patient_id,omitempty"`
	Biomarker string  `json:"biomarker"`
	Points    []Point `json:"points"`
}

// PeriodDefinition maps a period token to a window length in days
type PeriodDefinition struct {
	Token string `mapstructure:"token" json:"token"`
	Days  int    `mapstructure:"days" json:"days"`
}

// DataPoint is a windowed sample echoed in a trend report. Index is 1-based.
type DataPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Index int       `json:"week"`
}

// TrendStatistics describes the windowed series
type TrendStatistics struct {
	CurrentValue   float64   `json:"current_value"`
	AverageValue   float64   `json:"average_value"`
	MinValue       float64   `json:"min_value"`
	MaxValue       float64   `json:"max_value"`
	StdDeviation   float64   `json:"std_deviation"`
	TrendSlope     float64   `json:"trend_slope"`
	TrendDirection Direction `json:"trend_direction"`
	Volatility     float64   `json:"volatility"`
}

// TrendInsight is a notable property of the series
type TrendInsight struct {
	Type     InsightType `json:"type"`
	Message  string      `json:"message"`
	Severity Severity    `json:"severity"`
}

// TrendReport is the result of AnalyzeTrend
type TrendReport struct {
	PatientID  string          `json:"patient_id,omitempty"`
	Biomarker  string          `json:"biomarker"`
	TimePeriod string          `json:"time_period"`
	PeriodDays int             `json:"period_days"`
	DataPoints []DataPoint     `json:"data_points"`
	Statistics TrendStatistics `json:"statistics"`
	Insights   []TrendInsight  `json:"insights"`
	Message    string          `json:"message,omitempty"`
}

// AnalyzeTrend fits a least-squares line to the samples of series that fall
// within period days of the latest sample. Unknown period tokens use the
// default window. An empty window yields zero statistics and a message.
func (e *Engine) AnalyzeTrend(series TimeSeries, period string) (*TrendReport, error) {
	if strings.TrimSpace(series.Biomarker) == "" {
		return nil, labs.NewValidationError(-1, "biomarker", labs.CodeEmptyBiomarker, "biomarker is required")
	}
	for i, p := range series.Points {
		if !labs.IsFinite(p.Value) {
			return nil, labs.NewValidationError(i, "value", labs.CodeNonFinite, "value must be a finite number")
		}
	}

	if period == "" {
		period = DefaultPeriodToken
	}
	days := e.PeriodDays(period)

	report := &TrendReport{
		PatientID:  series.PatientID,
		Biomarker:  series.Biomarker,
		TimePeriod: period,
		PeriodDays: days,
		DataPoints: []DataPoint{},
		Insights:   []TrendInsight{},
	}

	points := windowPoints(series.Points, days)
	if len(points) == 0 {
		report.Statistics.TrendDirection = DirectionStable
		report.Message = EmptyTrendWindowMessage
		return report, nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
		report.DataPoints = append(report.DataPoints, DataPoint{Date: p.Time, Value: p.Value, Index: i + 1})
	}

	lo, hi := minMax(values)
	slope := leastSquaresSlope(values)
	avg := mean(values)
	std := populationStdDev(values)

	report.Statistics = TrendStatistics{
		CurrentValue:   values[len(values)-1],
		AverageValue:   avg,
		MinValue:       lo,
		MaxValue:       hi,
		StdDeviation:   std,
		TrendSlope:     slope,
		TrendDirection: trendDirection(slope),
		Volatility:     populationStdDev(firstDifferences(values)),
	}

	if math.Abs(slope) > TrendInsightSlope {
		direction := DirectionIncreasing
		if slope < 0 {
			direction = DirectionDecreasing
		}
		severity := SeverityModerate
		if math.Abs(slope) >= HighTrendInsightSlope {
			severity = SeverityHigh
		}
		report.Insights = append(report.Insights, TrendInsight{
			Type:     InsightTrend,
			Message:  fmt.Sprintf("%s shows a %s trend over %s", series.Biomarker, direction, period),
			Severity: severity,
		})
	}
	if std > avg*VolatilityInsightRatio {
		report.Insights = append(report.Insights, TrendInsight{
			Type:     InsightVolatility,
			Message:  fmt.Sprintf("%s shows high variability in recent measurements", series.Biomarker),
			Severity: SeverityModerate,
		})
	}
	return report, nil
}

// windowPoints sorts a copy of points by time and keeps those no older than
// days before the latest one.
func windowPoints(points []Point, days int) []Point {
	if len(points) == 0 {
		return nil
	}
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	cutoff := sorted[len(sorted)-1].Time.AddDate(0, 0, -days)
	start := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Time.Before(cutoff) })
	return sorted[start:]
}

func trendDirection(slope float64) Direction {
	switch {
	case slope > DirectionSlopeThreshold:
		return DirectionIncreasing
	case slope < -DirectionSlopeThreshold:
		return DirectionDecreasing
	default:
		return DirectionStable
	}
}
