package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger syncs and inspect their status",
	}
	cmd.AddCommand(syncTriggerCmd())
	cmd.AddCommand(syncRunsCmd())
	cmd.AddCommand(syncHealthCmd())
	return cmd
}

func syncTriggerCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:       "trigger <cost|compliance|resource|identity>",
		Short:     "Start a manual sync",
		Long:      "Start a manual sync for one tenant, or for every active tenant when --tenant is omitted.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"cost", "compliance", "resource", "identity"},
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := apiClient.Sync.Trigger(context.Background(), args[0], tenantID)
			if err != nil {
				fatal("trigger sync", err)
			}
			if flagFmt == "table" {
				var rows [][]string
				for tenant, outcome := range resp.Tenants {
					rows = append(rows, []string{tenant, outcome})
				}
				formatTable([]string{"TENANT", "OUTCOME"}, rows)
				return
			}
			output(resp, resp.Outcome)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (default: all active tenants)")
	return cmd
}

func syncRunsCmd() *cobra.Command {
	var jobType, tenantID string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			runs, err := apiClient.Sync.Runs(context.Background(), jobType, tenantID)
			if err != nil {
				fatal("list runs", err)
			}
			if flagFmt == "table" {
				headers := []string{"ID", "JOB", "TENANT", "STATUS", "RECORDS", "STARTED", "FINISHED", "ERROR"}
				var rows [][]string
				for _, r := range runs {
					rows = append(rows, []string{
						r.ID, r.JobType, r.TenantID, r.Status, fmt.Sprintf("%d", r.RecordsProcessed),
						timeCell(r.StartedAt), timeCell(r.FinishedAt), r.ErrorSummary,
					})
				}
				formatTable(headers, rows)
				return
			}
			output(runs, fmt.Sprintf("%d", len(runs)))
		},
	}
	cmd.Flags().StringVar(&jobType, "job", "", "Filter by job type")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Filter by tenant ID")
	return cmd
}

func syncHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show aggregate sync health",
		Run: func(cmd *cobra.Command, args []string) {
			h, err := apiClient.Sync.Health(context.Background())
			if err != nil {
				fatal("sync health", err)
			}
			if flagFmt == "table" {
				headers := []string{"JOB", "STATUS", "FAILURES", "RUNNING", "LAST SUCCESS"}
				rows := [][]string{{"(all)", h.Status, fmt.Sprintf("%d", h.ConsecutiveFailures), "", timeCell(h.LastSuccess)}}
				for _, job := range []string{"cost", "compliance", "resource", "identity"} {
					jh, ok := h.Jobs[job]
					if !ok {
						continue
					}
					rows = append(rows, []string{job, jh.Status, fmt.Sprintf("%d", jh.ConsecutiveFailures), fmt.Sprintf("%d", jh.Running), timeCell(jh.LastSuccess)})
				}
				formatTable(headers, rows)
				return
			}
			output(h, h.Status)
		},
	}
}
