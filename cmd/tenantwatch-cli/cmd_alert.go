package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/persistorai/tenantwatch/client"
)

func newAlertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Aliases: []string{"alerts"},
		Short:   "Review and resolve alerts",
	}
	cmd.AddCommand(alertListCmd())
	cmd.AddCommand(alertResolveCmd())
	cmd.AddCommand(alertWatchCmd())
	return cmd
}

func alertListCmd() *cobra.Command {
	var all bool
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			items, _, err := apiClient.Alerts.List(context.Background(), all, &client.ListOptions{Limit: limit, Offset: offset})
			if err != nil {
				fatal("list alerts", err)
			}
			if flagFmt == "table" {
				headers := []string{"ID", "TENANT", "SOURCE", "SEVERITY", "RESOLVED", "CREATED", "MESSAGE"}
				var rows [][]string
				for _, a := range items {
					rows = append(rows, []string{
						a.ID, a.TenantID, a.Source, a.Severity, fmt.Sprintf("%t", a.Resolved),
						timeCell(&a.CreatedAt), a.Message,
					})
				}
				formatTable(headers, rows)
				return
			}
			output(items, fmt.Sprintf("%d", len(items)))
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include resolved alerts")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many results")
	return cmd
}

func alertResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := apiClient.Alerts.Resolve(context.Background(), args[0])
			if err != nil {
				fatal("resolve alert", err)
			}
			output(a, a.ID)
		},
	}
}
