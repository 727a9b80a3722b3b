// Package analysis implements the lab analytics engine: summary statistics,
// outlier detection, condition risk scoring, biomarker trend estimation and
// insight aggregation. Every entry point is a pure function of its inputs.
package analysis

// Severity grades an abnormal marker, outlier or insight
type Severity string

const (
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// Level grades risk indicators, condition risk and recommendation priority
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
)

// Deviation tells on which side of the reference range a value fell
type Deviation string

const (
	DeviationLow  Deviation = "low"
	DeviationHigh Deviation = "high"
)

// Method names the detector(s) that flagged an outlier
type Method string

const (
	MethodZScore Method = "z_score"
	MethodIQR    Method = "iqr"
	MethodBoth   Method = "both"
)

// Direction classifies a trend slope
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

// InsightType labels a trend insight
type InsightType string

const (
	InsightTrend      InsightType = "trend"
	InsightVolatility InsightType = "volatility"
)

// Summary thresholds
const (
	// A value below referenceMin*HighSeverityLowFactor is a high-severity deviation
	HighSeverityLowFactor = 0.7
	// A value above referenceMax*HighSeverityHighFactor is a high-severity deviation
	HighSeverityHighFactor = 1.3
	// More than this many moderate markers raises a moderate risk indicator
	ModerateIndicatorCount = 2
)

// Outlier thresholds
const (
	MinOutlierSamples = 3
	ZScoreThreshold   = 2.0
	HighZScore        = 3.0
	IQRMultiplier     = 1.5

	// zeroVarianceZScore is reported for every value of an all-equal set,
	// where the z-score is undefined. It never exceeds ZScoreThreshold.
	zeroVarianceZScore = 0.0
)

// Risk thresholds
const (
	ModerateRiskPercentage = 25.0
	HighRiskPercentage     = 50.0

	// DefaultHealthScore is reported when no configured condition matched any
	// marker. It is a neutral placeholder, not a score computed from the panel.
	DefaultHealthScore = 85.0

	maxHealthScore = 100.0
)

// Trend thresholds
const (
	DirectionSlopeThreshold = 0.5
	TrendInsightSlope       = 1.0
	HighTrendInsightSlope   = 2.0
	VolatilityInsightRatio  = 0.2
	DefaultPeriodDays       = 180
	DefaultPeriodToken      = "6_months"
)

// Aggregation thresholds
const (
	// More than this many outliers raises a moderate actionable insight
	OutlierInsightCount = 2
)

// FollowUpRecommendations is the fixed follow-up checklist attached to every
// insight report. It is not derived from the panel.
var FollowUpRecommendations = []string{
	"Retest abnormal markers in 4-6 weeks",
	"Consider comprehensive metabolic panel if not recently done",
	"Lifestyle modifications based on identified risk factors",
	"Regular monitoring of trending biomarkers",
}
