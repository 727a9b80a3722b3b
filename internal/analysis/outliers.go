package analysis

import (
	"math"

	"github.com/drfirst/labinsight/internal/domain/labs"
)

// InsufficientOutlierDataMessage is reported when a set is too small to test
const InsufficientOutlierDataMessage = "Insufficient data points for outlier detection (minimum 3 required)"

// OutlierRecord is a value flagged by at least one detector
type OutlierRecord struct {
	Index    int      `json:"index"`
	Name     string   `json:"name"`
	Value    float64  `json:"value"`
	ZScore   float64  `json:"z_score"`
	Method   Method   `json:"method"`
	Severity Severity `json:"severity"`
}

// OutlierStatistics describes the distribution the detectors ran against
type OutlierStatistics struct {
	TotalMarkers      int     `json:"total_markers"`
	OutlierCount      int     `json:"outlier_count"`
	OutlierPercentage float64 `json:"outlier_percentage"`
	Mean              float64 `json:"mean"`
	StdDeviation      float64 `json:"std_deviation"`
	Q1                float64 `json:"q1"`
	Q3                float64 `json:"q3"`
	IQR               float64 `json:"iqr"`
	LowerBound        float64 `json:"lower_bound"`
	UpperBound        float64 `json:"upper_bound"`
}

// OutlierReport is the result of DetectOutliers
type OutlierReport struct {
	Outliers   []OutlierRecord   `json:"outliers"`
	Statistics OutlierStatistics `json:"statistics"`
	Message    string            `json:"message,omitempty"`
}

// DetectOutliers flags values more than ZScoreThreshold population standard
// deviations from the mean, or outside the Tukey fences. Sets with fewer than
// MinOutlierSamples values yield no outliers and an explanatory message.
func DetectOutliers(set *labs.ValueSet) (*OutlierReport, error) {
	if set == nil {
		return nil, ErrNilValueSet
	}

	n := set.Len()
	report := &OutlierReport{
		Outliers:   []OutlierRecord{},
		Statistics: OutlierStatistics{TotalMarkers: n},
	}
	if n < MinOutlierSamples {
		report.Message = InsufficientOutlierDataMessage
		return report, nil
	}

	values := set.Values()
	names := set.Names()
	m := mean(values)
	std := populationStdDev(values)

	sorted := sortedCopy(values)
	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	lower := q1 - IQRMultiplier*iqr
	upper := q3 + IQRMultiplier*iqr

	for i, v := range values {
		z := zeroVarianceZScore
		if std > 0 {
			z = math.Abs(v-m) / std
		}
		byZ := z > ZScoreThreshold
		byIQR := v < lower || v > upper

		var method Method
		switch {
		case byZ && byIQR:
			method = MethodBoth
		case byZ:
			method = MethodZScore
		case byIQR:
			method = MethodIQR
		default:
			continue
		}

		severity := SeverityModerate
		if z > HighZScore {
			severity = SeverityHigh
		}
		report.Outliers = append(report.Outliers, OutlierRecord{
			Index:    i,
			Name:     names[i],
			Value:    v,
			ZScore:   z,
			Method:   method,
			Severity: severity,
		})
	}

	report.Statistics = OutlierStatistics{
		TotalMarkers:      n,
		OutlierCount:      len(report.Outliers),
		OutlierPercentage: float64(len(report.Outliers)) / float64(n) * 100,
		Mean:              m,
		StdDeviation:      std,
		Q1:                q1,
		Q3:                q3,
		IQR:               iqr,
		LowerBound:        lower,
		UpperBound:        upper,
	}
	return report, nil
}
