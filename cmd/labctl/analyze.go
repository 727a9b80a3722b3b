package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/ingest"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze a lab panel read from a file or stdin",
		Long: "Reads a panel in the API request format (lab_values, observations or bundle)\n" +
			"and prints the report of the chosen stage as JSON.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, _ := cmd.Flags().GetString("stage")
			path, _ := cmd.Flags().GetString("analytics-config")

			var name string
			if len(args) == 1 {
				name = args[0]
			}
			data, err := readInput(cmd, name)
			if err != nil {
				return err
			}

			var sub ingest.Submission
			if err := json.Unmarshal(data, &sub); err != nil {
				return fmt.Errorf("decode panel: %w", err)
			}
			panel, err := ingest.NewResolver("cli").Resolve(&sub)
			if err != nil {
				return err
			}

			engine, err := config.NewEngine(path)
			if err != nil {
				return err
			}

			switch stage {
			case "summary":
				report, err := analysis.Summarize(panel.Values)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			case "outliers":
				report, err := analysis.DetectOutliers(panel.Values)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			case "risk":
				report, err := engine.ScoreRisk(panel.Values)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			case "insights":
				report := engine.AggregateInsights(panel.Values)
				if err := printJSON(cmd, report); err != nil {
					return err
				}
				return report.Err()
			default:
				return fmt.Errorf("unknown stage %q: use summary, outliers, risk or insights", stage)
			}
		},
	}
	cmd.Flags().String("stage", "insights", "Report to print: summary, outliers, risk or insights")
	return cmd
}
