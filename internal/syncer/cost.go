package syncer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

// costLookbackDays is the rolling window each cost sync covers.
const costLookbackDays = 30

// CostAdapter syncs daily cost grouped by resource group and service.
type CostAdapter struct {
	deps   Deps
	window time.Duration
}

// NewCostAdapter creates a CostAdapter whose sync window matches interval.
func NewCostAdapter(deps Deps, interval time.Duration) *CostAdapter {
	return &CostAdapter{deps: deps, window: interval}
}

// JobType implements Adapter.
func (a *CostAdapter) JobType() models.JobType { return models.JobCost }

type costColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type costQueryPage struct {
	Properties struct {
		NextLink string       `json:"nextLink"`
		Columns  []costColumn `json:"columns"`
		Rows     [][]any      `json:"rows"`
	} `json:"properties"`
}

func costQuery(from, to time.Time) map[string]any {
	return map[string]any{
		"type":      "ActualCost",
		"timeframe": "Custom",
		"timePeriod": map[string]string{
			"from": from.Format(time.RFC3339),
			"to":   to.Format(time.RFC3339),
		},
		"dataset": map[string]any{
			"granularity": "Daily",
			"aggregation": map[string]any{
				"totalCost": map[string]string{"name": "Cost", "function": "Sum"},
			},
			"grouping": []map[string]string{
				{"type": "Dimension", "name": "ResourceGroupName"},
				{"type": "Dimension", "name": "ServiceName"},
			},
		},
	}
}

// Run implements Adapter.
func (a *CostAdapter) Run(ctx context.Context, tenantID string) SyncResult {
	var res SyncResult

	cred, err := a.deps.Credentials.Resolve(ctx, tenantID, string(models.JobCost))
	if err != nil {
		res.Fatal = err
		return res
	}

	now := a.deps.now()
	window := syncWindow(now, a.window)
	to := now.Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -costLookbackDays)

	subs, err := listSubscriptions(ctx, a.deps, cred, string(models.JobCost), &res)
	if err != nil {
		res.Fatal = err
		return res
	}

	for _, sub := range subs {
		first := upstream.Request{
			Service: string(models.JobCost),
			Scope:   a.deps.Endpoints.managementScope(),
			Method:  http.MethodPost,
			URL: fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=2023-11-01",
				a.deps.Endpoints.Management, sub.SubscriptionID),
			Body: costQuery(from, to),
		}

		_, err := paginate(ctx, a.deps, cred, "cost/"+sub.SubscriptionID, first,
			func(p *costQueryPage) string { return p.Properties.NextLink },
			func(ctx context.Context, p *costQueryPage) (int, error) {
				rows, skipped := mapCostRows(tenantID, sub.SubscriptionID, p, now, window)
				for _, s := range skipped {
					res.addPageError("cost/"+sub.SubscriptionID, 0, s)
				}
				if len(rows) == 0 {
					return 0, nil
				}
				return a.deps.Store.UpsertCost(ctx, tenantID, rows)
			}, &res)
		if err != nil {
			res.Fatal = err
			return res
		}
	}

	return res
}

// mapCostRows turns a column/row cost page into snapshots. Zero-cost rows are
// dropped; currency is kept per row.
func mapCostRows(tenantID, subscriptionID string, p *costQueryPage, capturedAt, window time.Time) ([]models.CostSnapshot, []error) {
	idx := make(map[string]int, len(p.Properties.Columns))
	for i, c := range p.Properties.Columns {
		idx[strings.ToLower(c.Name)] = i
	}

	for _, required := range []string{"cost", "usagedate", "resourcegroupname", "servicename"} {
		if _, ok := idx[required]; !ok {
			return nil, []error{fmt.Errorf("cost response missing column %q", required)}
		}
	}

	var (
		out  []models.CostSnapshot
		errs []error
	)

	for i, row := range p.Properties.Rows {
		cost, ok := numberAt(row, idx["cost"])
		if !ok {
			errs = append(errs, fmt.Errorf("row %d: cost is not a number", i))
			continue
		}

		if cost == 0 {
			continue
		}

		usage, err := usageDate(row, idx["usagedate"])
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			continue
		}

		currency := "USD"
		if ci, ok := idx["currency"]; ok {
			if s := stringAt(row, ci); s != "" {
				currency = strings.ToUpper(s)
			}
		}

		out = append(out, models.CostSnapshot{
			SnapshotMeta: models.SnapshotMeta{
				TenantID:   tenantID,
				CapturedAt: capturedAt,
				SyncWindow: window,
			},
			SubscriptionID: subscriptionID,
			ResourceGroup:  strings.ToLower(stringAt(row, idx["resourcegroupname"])),
			ServiceName:    stringAt(row, idx["servicename"]),
			UsageDate:      usage,
			Cost:           cost,
			Currency:       currency,
		})
	}

	return out, errs
}

func numberAt(row []any, i int) (float64, bool) {
	if i >= len(row) {
		return 0, false
	}

	f, ok := row[i].(float64)

	return f, ok
}

func stringAt(row []any, i int) string {
	if i >= len(row) {
		return ""
	}

	s, _ := row[i].(string)

	return s
}

// usageDate accepts the numeric yyyymmdd form and RFC 3339 strings.
func usageDate(row []any, i int) (time.Time, error) {
	if i >= len(row) {
		return time.Time{}, fmt.Errorf("usage date missing")
	}

	switch v := row[i].(type) {
	case float64:
		return time.Parse("20060102", fmt.Sprintf("%08d", int64(v)))
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC().Truncate(24 * time.Hour), nil
		}
		return time.Parse("20060102", v)
	default:
		return time.Time{}, fmt.Errorf("usage date has type %T", v)
	}
}
