package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/tenantwatch/client"
)

func newAnomalyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "anomaly",
		Aliases: []string{"anomalies"},
		Short:   "Review cost anomalies",
	}
	cmd.AddCommand(anomalyListCmd())
	cmd.AddCommand(anomalyAckCmd())
	return cmd
}

func anomalyListCmd() *cobra.Command {
	var tenantID, status, since string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &client.AnomalyListOptions{
				TenantID: tenantID,
				Status:   status,
				Limit:    limit,
				Offset:   offset,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
				}
				opts.Since = &t
			}

			items, hasMore, err := apiClient.Anomalies.List(context.Background(), opts)
			if err != nil {
				fatal("list anomalies", err)
			}
			if flagFmt == "table" {
				headers := []string{"ID", "TENANT", "SERVICE", "DATE", "EXPECTED", "ACTUAL", "VARIANCE", "STATUS"}
				var rows [][]string
				for _, a := range items {
					rows = append(rows, []string{
						a.ID, a.TenantID, a.ServiceName, a.UsageDate.Format("2006-01-02"),
						moneyCell(a.ExpectedCost, ""), moneyCell(a.ActualCost, ""),
						percentCell(a.VariancePercent, true), a.Status,
					})
				}
				formatTable(headers, rows)
				if hasMore {
					notef("(more results; use --offset)")
				}
				return nil
			}
			output(items, fmt.Sprintf("%d", len(items)))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Filter by tenant ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: open|acknowledged")
	cmd.Flags().StringVar(&since, "since", "", "Only anomalies on or after this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many results")
	return cmd
}

func anomalyAckCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:     "ack <id>",
		Aliases: []string{"acknowledge"},
		Short:   "Acknowledge an anomaly",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := apiClient.Anomalies.Acknowledge(context.Background(), args[0], actor)
			if err != nil {
				if client.IsConflict(err) {
					fatal("acknowledge", fmt.Errorf("anomaly %s was already acknowledged", args[0]))
				}
				fatal("acknowledge", err)
			}
			output(a, a.ID)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Who is acknowledging (default: the API key name)")
	return cmd
}
