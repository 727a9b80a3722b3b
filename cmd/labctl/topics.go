package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/labinsight/internal/config"
	"github.com/drfirst/labinsight/internal/infrastructure/redpanda"
)

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage the Redpanda topics of the pipeline",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create missing pipeline topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(a *redpanda.Admin) error {
				if err := a.EnsureTopics(cmd.Context()); err != nil {
					return err
				}
				for _, t := range redpanda.DefaultTopicConfigs() {
					fmt.Fprintln(cmd.OutOrStdout(), t.Name)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(a *redpanda.Admin) error {
				names, err := a.ListTopics(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "describe <topic>",
		Short: "Show the partitions of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(a *redpanda.Admin) error {
				details, err := a.DescribeTopic(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, details)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lag <group>",
		Short: "Show the lag of a consumer group per partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(a *redpanda.Admin) error {
				lag, err := a.GetConsumerGroupLag(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TOPIC\tPARTITION\tLAG")
				topics := make([]string, 0, len(lag))
				for topic := range lag {
					topics = append(topics, topic)
				}
				sort.Strings(topics)
				for _, topic := range topics {
					partitions := make([]int32, 0, len(lag[topic]))
					for p := range lag[topic] {
						partitions = append(partitions, p)
					}
					sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
					for _, p := range partitions {
						fmt.Fprintf(w, "%s\t%d\t%d\n", topic, p, lag[topic][p])
					}
				}
				return w.Flush()
			})
		},
	})

	return cmd
}

func withAdmin(ctx context.Context, fn func(*redpanda.Admin) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := redpanda.HealthCheck(ctx, cfg.KafkaBrokers); err != nil {
		return err
	}

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, zap.NewNop())
	if err != nil {
		return err
	}
	defer admin.Close()
	return fn(admin)
}
