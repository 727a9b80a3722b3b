// Package main provides labctl, the command line client of the analytics
// engine and its infrastructure.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "labctl",
		Short:        "Lab panel analytics from the command line",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("analytics-config", "", "YAML file overriding the condition and period tables")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(trendCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(topicsCmd())
	return rootCmd
}

// readInput reads the named file, or stdin for "" and "-"
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
