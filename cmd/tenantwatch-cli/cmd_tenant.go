package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Per-tenant summaries",
	}
	cmd.AddCommand(tenantCostCmd())
	cmd.AddCommand(tenantComplianceCmd())
	return cmd
}

func tenantCostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cost <tenant-id>",
		Short: "Show the tenant's spend over the last 30 days",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sum, err := apiClient.Tenants.CostSummary(context.Background(), args[0])
			if err != nil {
				fatal("cost summary", err)
			}
			if flagFmt == "table" {
				currencies := make([]string, 0, len(sum.ByCurrency))
				for cur := range sum.ByCurrency {
					currencies = append(currencies, cur)
				}
				sort.Strings(currencies)

				var rows [][]string
				for _, cur := range currencies {
					rows = append(rows, []string{"(total)", cur, moneyCell(sum.ByCurrency[cur], "")})
				}
				for _, s := range sum.TopServices {
					rows = append(rows, []string{s.ServiceName, s.Currency, moneyCell(s.Cost, "")})
				}
				formatTable([]string{"SERVICE", "CURRENCY", "COST"}, rows)
				return
			}
			output(sum, sum.TenantID)
		},
	}
}

func tenantComplianceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compliance <tenant-id>",
		Short: "Show the tenant's latest compliance posture",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sum, err := apiClient.Tenants.ComplianceSummary(context.Background(), args[0])
			if err != nil {
				fatal("compliance summary", err)
			}
			if flagFmt == "table" {
				score := "-"
				if sum.SecurityScore != nil {
					score = fmt.Sprintf("%.1f", *sum.SecurityScore)
				}
				formatTable(
					[]string{"METRIC", "VALUE"},
					[][]string{
						{"Compliance", percentCell(sum.CompliancePercent, false)},
						{"Security score", score},
						{"Non-compliant (high)", fmt.Sprintf("%d", sum.BySeverity["High"])},
						{"Non-compliant (medium)", fmt.Sprintf("%d", sum.BySeverity["Medium"])},
						{"Non-compliant (low)", fmt.Sprintf("%d", sum.BySeverity["Low"])},
						{"Sync window", timeCell(sum.SyncWindow)},
						{"Oldest window", timeCell(sum.OldestSyncWindow)},
					},
				)
				return
			}
			output(sum, fmt.Sprintf("%.1f", sum.CompliancePercent))
		},
	}
}
