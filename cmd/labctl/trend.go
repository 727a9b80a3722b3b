package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/bootstrap"
	"github.com/drfirst/labinsight/internal/chart"
	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
)

func trendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Analyze the trend of one biomarker",
		Long: "Analyzes a series read with --series (a JSON time series) or loaded from the\n" +
			"history database for --patient and --biomarker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			seriesFile, _ := cmd.Flags().GetString("series")
			patient, _ := cmd.Flags().GetString("patient")
			biomarker, _ := cmd.Flags().GetString("biomarker")
			period, _ := cmd.Flags().GetString("period")
			chartFile, _ := cmd.Flags().GetString("chart")
			path, _ := cmd.Flags().GetString("analytics-config")

			engine, err := config.NewEngine(path)
			if err != nil {
				return err
			}

			var series analysis.TimeSeries
			if seriesFile != "" {
				data, err := readInput(cmd, seriesFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &series); err != nil {
					return fmt.Errorf("decode series: %w", err)
				}
			} else {
				if patient == "" || biomarker == "" {
					return errors.New("--patient and --biomarker are required without --series")
				}
				series, err = loadSeries(cmd.Context(), patient, biomarker)
				if err != nil {
					return err
				}
			}

			report, err := engine.AnalyzeTrend(series, period)
			if err != nil {
				return err
			}

			if chartFile != "" {
				f, err := os.Create(chartFile)
				if err != nil {
					return fmt.Errorf("create chart file: %w", err)
				}
				defer f.Close()
				if err := chart.Render(f, report); err != nil {
					return err
				}
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().String("series", "", "JSON time series file, - for stdin")
	cmd.Flags().String("patient", "", "Patient id to load from history")
	cmd.Flags().String("biomarker", "", "Biomarker to load from history")
	cmd.Flags().String("period", analysis.DefaultPeriodToken, "Window: 1_month, 3_months, 6_months or 1_year")
	cmd.Flags().String("chart", "", "Also write an HTML chart to this file")
	return cmd
}

func loadSeries(ctx context.Context, patient, biomarker string) (analysis.TimeSeries, error) {
	cfg, err := config.Load()
	if err != nil {
		return analysis.TimeSeries{}, err
	}
	if !cfg.HasDatabase() {
		return analysis.TimeSeries{}, errors.New("DATABASE_URL is required to load history")
	}

	hist, err := bootstrap.OpenHistory(ctx, cfg, circuitbreaker.NewManager(nil), nil, zap.NewNop())
	if err != nil {
		return analysis.TimeSeries{}, err
	}
	defer hist.Close()

	return hist.Store.Series(ctx, patient, biomarker)
}
