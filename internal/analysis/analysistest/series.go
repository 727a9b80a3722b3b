// Package analysistest generates deterministic biomarker series for tests.
package analysistest

import (
	"math/rand/v2"
	"time"

	"github.com/drfirst/labinsight/internal/analysis"
)

// Week is the spacing between generated samples
const Week = 7 * 24 * time.Hour

// SeriesOptions describes a generated series
type SeriesOptions struct {
	Biomarker string
	// End is the timestamp of the last sample
	End   time.Time
	Count int
	Base  float64
	// Slope is added per sample
	Slope float64
	// Noise is the standard deviation of the gaussian noise on each sample
	Noise float64
	Seed  uint64
}

// Series builds a weekly series ending at opts.End. Equal options always
// yields the same series.
func Series(opts SeriesOptions) analysis.TimeSeries {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	points := make([]analysis.Point, opts.Count)
	start := opts.End.Add(-time.Duration(opts.Count-1) * Week)
	for i := range points {
		v := opts.Base + opts.Slope*float64(i)
		if opts.Noise > 0 {
			v += rng.NormFloat64() * opts.Noise
		}
		points[i] = analysis.Point{Time: start.Add(time.Duration(i) * Week), Value: v}
	}
	return analysis.TimeSeries{Biomarker: opts.Biomarker, Points: points}
}

// Linear builds a noiseless weekly series
func Linear(biomarker string, end time.Time, count int, base, slope float64) analysis.TimeSeries {
	return Series(SeriesOptions{Biomarker: biomarker, End: end, Count: count, Base: base, Slope: slope})
}

// Values builds a weekly series ending at end with the given values
func Values(biomarker string, end time.Time, values ...float64) analysis.TimeSeries {
	points := make([]analysis.Point, len(values))
	start := end.Add(-time.Duration(len(values)-1) * Week)
	for i, v := range values {
		points[i] = analysis.Point{Time: start.Add(time.Duration(i) * Week), Value: v}
	}
	return analysis.TimeSeries{Biomarker: biomarker, Points: points}
}
