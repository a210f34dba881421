package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/tenantwatch/client"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}
	cmd.AddCommand(adminHealthCmd())
	cmd.AddCommand(adminReadyCmd())
	cmd.AddCommand(adminStatsCmd())
	return cmd
}

func adminHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := apiClient.Health(context.Background())
			if err != nil {
				fatal("health", err)
			}
			output(resp, resp.Status)
		},
	}
}

func adminReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := apiClient.Ready(context.Background())
			if err != nil {
				fatal("ready", err)
			}
			output(resp, resp.Status)
		},
	}
}

func adminStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fleet statistics (all-tenants admin key)",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := apiClient.Stats(context.Background())
			if err != nil {
				fatal("stats", err)
			}
			if flagFmt == "table" {
				rows := [][]string{
					{"Active tenants", fmt.Sprintf("%d", resp.ActiveTenants)},
					{"Open anomalies", fmt.Sprintf("%d", resp.OpenAnomalies)},
					{"Open alerts", fmt.Sprintf("%d", resp.OpenAlerts)},
					{"Running syncs", fmt.Sprintf("%d", resp.RunningSyncs)},
					{"Tripped breakers", fmt.Sprintf("%d", len(resp.Breakers))},
				}
				jobs := make([]string, 0, len(resp.NextRuns))
				for job := range resp.NextRuns {
					jobs = append(jobs, job)
				}
				sort.Strings(jobs)
				for _, job := range jobs {
					next := resp.NextRuns[job]
					rows = append(rows, []string{"Next " + job + " sync", next.UTC().Format(time.RFC3339)})
				}
				formatTable([]string{"METRIC", "VALUE"}, rows)
				return
			}
			output(resp, "")
		},
	}
}

func newAuditCmd() *cobra.Command {
	var (
		opts  client.AuditQueryOptions
		since time.Duration
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the operator action log",
		Example: "  tenantwatch audit --action sync.trigger --since 24h\n" +
			"  tenantwatch audit --actor ops-key --all -f json",
		Run: func(cmd *cobra.Command, args []string) {
			if since > 0 {
				t := time.Now().Add(-since)
				opts.Since = &t
			}

			entries, err := fetchAudit(context.Background(), &opts, all)
			if err != nil {
				fatal("audit query", err)
			}

			if flagFmt != "table" {
				output(entries, fmt.Sprintf("%d", len(entries)))
				return
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				tenant := e.TenantID
				if tenant == "" {
					tenant = "(fleet)"
				}
				rows = append(rows, []string{
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.Action, tenant, e.EntityType + "/" + e.EntityID, e.Actor,
				})
			}
			formatTable([]string{"WHEN", "ACTION", "TENANT", "ENTITY", "ACTOR"}, rows)
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", "", "Filter by action, e.g. sync.trigger")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "Filter by actor")
	cmd.Flags().StringVar(&opts.EntityType, "type", "", "Filter by entity type")
	cmd.Flags().StringVar(&opts.EntityID, "entity", "", "Filter by entity ID")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Page size (server default when 0)")
	cmd.Flags().BoolVar(&all, "all", false, "Follow pagination and print every match")

	cmd.AddCommand(auditPurgeCmd())

	return cmd
}

// fetchAudit reads one page, or every page when all is set.
func fetchAudit(ctx context.Context, opts *client.AuditQueryOptions, all bool) ([]client.AuditEntry, error) {
	if !all {
		entries, _, err := apiClient.Audit.Query(ctx, opts)
		return entries, err
	}

	var entries []client.AuditEntry
	err := apiClient.Audit.Each(ctx, opts, func(e client.AuditEntry) error {
		entries = append(entries, e)
		return nil
	})

	return entries, err
}

func auditPurgeCmd() *cobra.Command {
	var retentionDays int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Purge old audit entries across all tenants (all-tenants admin key)",
		Run: func(cmd *cobra.Command, args []string) {
			deleted, err := apiClient.Audit.Purge(context.Background(), retentionDays)
			if err != nil {
				fatal("audit purge", err)
			}
			output(map[string]int{"deleted": deleted}, fmt.Sprintf("%d", deleted))
		},
	}
	cmd.Flags().IntVar(&retentionDays, "retention-days", 90, "Delete entries older than N days")
	return cmd
}
