package analysis

import (
	"math"
	"reflect"
	"testing"
)

func TestDetectOutliersInsufficientData(t *testing.T) {
	for _, n := range []int{0, 1, 2} {
		values := make([]float64, n)
		for i := range values {
			values[i] = float64(i * 100)
		}

		report, err := DetectOutliers(mustValueSet(t, plain(values...)...))
		if err != nil {
			t.Fatalf("DetectOutliers: %v", err)
		}
		if len(report.Outliers) != 0 || report.Outliers == nil {
			t.Errorf("n=%d: expected empty outliers, got %v", n, report.Outliers)
		}
		if report.Message != InsufficientOutlierDataMessage {
			t.Errorf("n=%d: message = %q", n, report.Message)
		}
		if report.Statistics.TotalMarkers != n {
			t.Errorf("n=%d: total = %d", n, report.Statistics.TotalMarkers)
		}
	}
}

func TestDetectOutliersZScoreBoundaryIsExclusive(t *testing.T) {
	// mean 18, population std 16: the last value sits at exactly z = 2
	report, err := DetectOutliers(mustValueSet(t, plain(10, 10, 10, 10, 50)...))
	if err != nil {
		t.Fatalf("DetectOutliers: %v", err)
	}

	if len(report.Outliers) != 1 {
		t.Fatalf("expected 1 outlier, got %d", len(report.Outliers))
	}
	o := report.Outliers[0]
	if o.Index != 4 || o.Value != 50 {
		t.Errorf("outlier = %+v", o)
	}
	if o.ZScore != 2 {
		t.Errorf("z = %v, want exactly 2", o.ZScore)
	}
	if o.Method != MethodIQR {
		t.Errorf("method = %s, want iqr (z = 2 does not exceed the threshold)", o.Method)
	}
	if o.Severity != SeverityModerate {
		t.Errorf("severity = %s", o.Severity)
	}

	s := report.Statistics
	if s.Mean != 18 || s.StdDeviation != 16 {
		t.Errorf("mean/std = %v/%v", s.Mean, s.StdDeviation)
	}
	if s.Q1 != 10 || s.Q3 != 10 || s.IQR != 0 || s.LowerBound != 10 || s.UpperBound != 10 {
		t.Errorf("quartiles = %+v", s)
	}
}

func TestDetectOutliersBothMethods(t *testing.T) {
	tests := []struct {
		name     string
		tens     int
		severity Severity
	}{
		// one extreme value among k equal ones has z = sqrt(k)
		{"z exactly 3 is moderate", 9, SeverityModerate},
		{"z above 3 is high", 10, SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := make([]float64, tt.tens)
			for i := range values {
				values[i] = 10
			}
			values = append(values, 100)

			report, err := DetectOutliers(mustValueSet(t, plain(values...)...))
			if err != nil {
				t.Fatalf("DetectOutliers: %v", err)
			}
			if len(report.Outliers) != 1 {
				t.Fatalf("expected 1 outlier, got %d", len(report.Outliers))
			}
			o := report.Outliers[0]
			if o.Method != MethodBoth {
				t.Errorf("method = %s, want both", o.Method)
			}
			if o.Severity != tt.severity {
				t.Errorf("severity = %s, want %s (z=%v)", o.Severity, tt.severity, o.ZScore)
			}
		})
	}
}

func TestDetectOutliersZeroVariance(t *testing.T) {
	report, err := DetectOutliers(mustValueSet(t, plain(5, 5, 5, 5)...))
	if err != nil {
		t.Fatalf("DetectOutliers: %v", err)
	}

	if len(report.Outliers) != 0 {
		t.Errorf("expected no outliers, got %+v", report.Outliers)
	}
	if report.Statistics.StdDeviation != 0 || math.IsNaN(report.Statistics.OutlierPercentage) {
		t.Errorf("statistics = %+v", report.Statistics)
	}
}

func TestDetectOutliersOrderAndPercentage(t *testing.T) {
	values := []float64{100, 10, 10, 10, 10, 10, 10, 10, 10, 10, 100}

	report, err := DetectOutliers(mustValueSet(t, plain(values...)...))
	if err != nil {
		t.Fatalf("DetectOutliers: %v", err)
	}

	if len(report.Outliers) != 2 {
		t.Fatalf("expected 2 outliers, got %d", len(report.Outliers))
	}
	if report.Outliers[0].Index != 0 || report.Outliers[1].Index != 10 {
		t.Errorf("outliers not in index order: %+v", report.Outliers)
	}

	s := report.Statistics
	if s.OutlierCount != len(report.Outliers) {
		t.Errorf("count = %d", s.OutlierCount)
	}
	want := float64(s.OutlierCount) / float64(s.TotalMarkers) * 100
	if s.OutlierPercentage != want {
		t.Errorf("percentage = %v, want %v", s.OutlierPercentage, want)
	}
}

func TestDetectOutliersQuartileInterpolation(t *testing.T) {
	report, err := DetectOutliers(mustValueSet(t, plain(4, 1, 3, 2)...))
	if err != nil {
		t.Fatalf("DetectOutliers: %v", err)
	}

	s := report.Statistics
	if s.Q1 != 1.75 || s.Q3 != 3.25 || s.IQR != 1.5 {
		t.Errorf("quartiles = %v/%v/%v, want 1.75/3.25/1.5", s.Q1, s.Q3, s.IQR)
	}
	if s.LowerBound != -0.5 || s.UpperBound != 5.5 {
		t.Errorf("fences = %v/%v", s.LowerBound, s.UpperBound)
	}
}

func TestDetectOutliersIsIdempotent(t *testing.T) {
	set := mustValueSet(t, plain(1, 2, 3, 4, 100, 5, 6)...)

	first, err := DetectOutliers(set)
	if err != nil {
		t.Fatalf("DetectOutliers: %v", err)
	}
	second, err := DetectOutliers(set)
	if err != nil {
		t.Fatalf("DetectOutliers: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated detections differ")
	}
}
