// Package chart renders biomarker trend reports as HTML line charts.
package chart

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/drfirst/labinsight/internal/analysis"
)

const dateLayout = "Jan 2, 2006"

// NewTrendLine builds a line chart of the windowed samples of report. The
// subtitle carries the direction and slope, and each insight is listed
// below it.
func NewTrendLine(report *analysis.TrendReport) *charts.Line {
	xAxis := make([]string, 0, len(report.DataPoints))
	yData := make([]opts.LineData, 0, len(report.DataPoints))
	for _, p := range report.DataPoints {
		xAxis = append(xAxis, p.Date.Format(dateLayout))
		yData = append(yData, opts.LineData{Value: p.Value})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: report.Biomarker + " trend",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    report.Biomarker,
			Subtitle: subtitle(report),
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show: opts.Bool(true),
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(false),
		}),
	)

	seriesOpts := []charts.SeriesOpts{
		charts.WithLineChartOpts(opts.LineChart{
			Smooth:     opts.Bool(true),
			ShowSymbol: opts.Bool(true),
		}),
	}
	if len(yData) > 0 {
		seriesOpts = append(seriesOpts,
			charts.WithMarkPointNameTypeItemOpts(
				opts.MarkPointNameTypeItem{Name: "Max", Type: "max"},
				opts.MarkPointNameTypeItem{Name: "Min", Type: "min"},
			),
			charts.WithMarkLineNameTypeItemOpts(
				opts.MarkLineNameTypeItem{Name: "Average", Type: "average"},
			),
		)
	}

	line.SetXAxis(xAxis).
		AddSeries(report.Biomarker, yData).
		SetSeriesOptions(seriesOpts...)
	return line
}

// Render writes the trend chart of report as a standalone HTML page
func Render(w io.Writer, report *analysis.TrendReport) error {
	if report == nil {
		return fmt.Errorf("trend report is required")
	}
	if err := NewTrendLine(report).Render(w); err != nil {
		return fmt.Errorf("render trend chart: %w", err)
	}
	return nil
}

func subtitle(report *analysis.TrendReport) string {
	if report.Message != "" {
		return report.Message
	}
	lines := []string{fmt.Sprintf("%s over %d days, slope %.2f",
		report.Statistics.TrendDirection, report.PeriodDays, report.Statistics.TrendSlope)}
	for _, in := range report.Insights {
		lines = append(lines, fmt.Sprintf("[%s] %s", in.Severity, in.Message))
	}
	return strings.Join(lines, "\n")
}
