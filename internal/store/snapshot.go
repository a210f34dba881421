package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/tenantwatch/internal/models"
)

// SnapshotStore upserts and aggregates the per-domain snapshot tables. All
// statements run inside a tenant-pinned transaction.
type SnapshotStore struct {
	Base
}

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(base Base) *SnapshotStore {
	return &SnapshotStore{Base: base}
}

// execBatch runs b in a tenant transaction and commits only if every
// statement succeeded.
func (s *SnapshotStore) execBatch(ctx context.Context, tenantID, what string, b *pgx.Batch) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	results := tx.SendBatch(ctx, b)

	n := 0
	for i := 0; i < b.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			results.Close() //nolint:errcheck // the exec error is the one worth reporting.
			return 0, fmt.Errorf("upserting %s: %w", what, err)
		}

		n += int(tag.RowsAffected())
	}

	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("closing %s batch: %w", what, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing %s: %w", what, err)
	}

	return n, nil
}

// UpsertCost writes cost rows; a row with the same key in the same window is
// updated in place.
func (s *SnapshotStore) UpsertCost(ctx context.Context, tenantID string, rows []models.CostSnapshot) (int, error) {
	b := &pgx.Batch{}

	for _, r := range rows {
		b.Queue(`
			INSERT INTO cost_snapshots
				(tenant_id, subscription_id, resource_group, service_name, usage_date, cost, currency, captured_at, sync_window)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tenant_id, subscription_id, resource_group, service_name, usage_date, currency, sync_window)
			DO UPDATE SET cost = EXCLUDED.cost, captured_at = EXCLUDED.captured_at`,
			tenantID, r.SubscriptionID, r.ResourceGroup, r.ServiceName, r.UsageDate, r.Cost, r.Currency, r.CapturedAt, r.SyncWindow,
		)
	}

	return s.execBatch(ctx, tenantID, "cost snapshots", b)
}

// UpsertCompliance writes per-policy compliance rows.
func (s *SnapshotStore) UpsertCompliance(ctx context.Context, tenantID string, rows []models.ComplianceSnapshot) (int, error) {
	b := &pgx.Batch{}

	for _, r := range rows {
		b.Queue(`
			INSERT INTO compliance_snapshots
				(tenant_id, subscription_id, policy_name, category, compliant, non_compliant, exempt,
				 compliance_percent, security_score, severity, captured_at, sync_window)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (tenant_id, subscription_id, policy_name, sync_window)
			DO UPDATE SET category = EXCLUDED.category, compliant = EXCLUDED.compliant,
				non_compliant = EXCLUDED.non_compliant, exempt = EXCLUDED.exempt,
				compliance_percent = EXCLUDED.compliance_percent, security_score = EXCLUDED.security_score,
				severity = EXCLUDED.severity, captured_at = EXCLUDED.captured_at`,
			tenantID, r.SubscriptionID, r.PolicyName, r.Category, r.Compliant, r.NonCompliant, r.Exempt,
			r.CompliancePercent, r.SecurityScore, r.Severity, r.CapturedAt, r.SyncWindow,
		)
	}

	return s.execBatch(ctx, tenantID, "compliance snapshots", b)
}

// UpsertResources writes inventory rows.
func (s *SnapshotStore) UpsertResources(ctx context.Context, tenantID string, rows []models.ResourceSnapshot) (int, error) {
	b := &pgx.Batch{}

	for _, r := range rows {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return 0, fmt.Errorf("marshaling tags for %s: %w", r.ResourceID, err)
		}

		if r.Tags == nil {
			tags = []byte("{}")
		}

		b.Queue(`
			INSERT INTO resource_snapshots
				(tenant_id, resource_id, subscription_id, resource_group, type, name, location,
				 provisioning_state, tags, is_orphaned, captured_at, sync_window)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (tenant_id, resource_id, sync_window)
			DO UPDATE SET subscription_id = EXCLUDED.subscription_id, resource_group = EXCLUDED.resource_group,
				type = EXCLUDED.type, name = EXCLUDED.name, location = EXCLUDED.location,
				provisioning_state = EXCLUDED.provisioning_state, tags = EXCLUDED.tags,
				is_orphaned = EXCLUDED.is_orphaned, captured_at = EXCLUDED.captured_at`,
			tenantID, r.ResourceID, r.SubscriptionID, r.ResourceGroup, r.Type, r.Name, r.Location,
			r.ProvisioningState, tags, r.IsOrphaned, r.CapturedAt, r.SyncWindow,
		)
	}

	return s.execBatch(ctx, tenantID, "resource snapshots", b)
}

// UpsertIdentities writes directory principal rows.
func (s *SnapshotStore) UpsertIdentities(ctx context.Context, tenantID string, rows []models.IdentitySnapshot) (int, error) {
	b := &pgx.Batch{}

	for _, r := range rows {
		roles := r.Roles
		if roles == nil {
			roles = []string{}
		}

		b.Queue(`
			INSERT INTO identity_snapshots
				(tenant_id, object_id, kind, display_name, upn, roles, is_privileged, is_stale,
				 last_sign_in, mfa_state, captured_at, sync_window)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (tenant_id, object_id, sync_window)
			DO UPDATE SET kind = EXCLUDED.kind, display_name = EXCLUDED.display_name, upn = EXCLUDED.upn,
				roles = EXCLUDED.roles, is_privileged = EXCLUDED.is_privileged, is_stale = EXCLUDED.is_stale,
				last_sign_in = EXCLUDED.last_sign_in, mfa_state = EXCLUDED.mfa_state,
				captured_at = EXCLUDED.captured_at`,
			tenantID, r.ObjectID, r.Kind, r.DisplayName, r.UPN, roles, r.IsPrivileged, r.IsStale,
			r.LastSignIn, r.MFAState, r.CapturedAt, r.SyncWindow,
		)
	}

	return s.execBatch(ctx, tenantID, "identity snapshots", b)
}

// DailyCostHistory returns per-service daily totals on or after since. For
// each subscription and usage day only the latest window is used, since later
// windows restate earlier ones. A subscription missing from a newer, partial
// run keeps contributing its last written window. SnapshotID is the first row
// of that total.
func (s *SnapshotStore) DailyCostHistory(ctx context.Context, tenantID string, since time.Time) ([]models.DailyCost, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only transaction.

	rows, err := tx.Query(ctx, `
		WITH latest AS (
			SELECT *, MAX(sync_window) OVER (PARTITION BY subscription_id, usage_date) AS latest_window
			FROM cost_snapshots
			WHERE tenant_id = $1 AND usage_date >= $2
		)
		SELECT MIN(id), service_name, usage_date, MIN(currency), SUM(cost)::float8
		FROM latest
		WHERE sync_window = latest_window
		GROUP BY service_name, usage_date
		ORDER BY usage_date, service_name`,
		tenantID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cost history: %w", err)
	}
	defer rows.Close()

	var out []models.DailyCost

	for rows.Next() {
		var d models.DailyCost
		if err := rows.Scan(&d.SnapshotID, &d.ServiceName, &d.UsageDate, &d.Currency, &d.Cost); err != nil {
			return nil, fmt.Errorf("scanning cost history: %w", err)
		}

		out = append(out, d)
	}

	return out, rows.Err()
}

// CostSummary totals spend per currency and lists the top services between
// from and to, using the latest window for each subscription and day.
func (s *SnapshotStore) CostSummary(ctx context.Context, tenantID string, from, to time.Time, top int) (*models.CostSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only transaction.

	rows, err := tx.Query(ctx, `
		WITH latest AS (
			SELECT *, MAX(sync_window) OVER (PARTITION BY subscription_id, usage_date) AS latest_window
			FROM cost_snapshots
			WHERE tenant_id = $1 AND usage_date >= $2 AND usage_date <= $3
		)
		SELECT service_name, currency, SUM(cost)::float8 AS total
		FROM latest
		WHERE sync_window = latest_window
		GROUP BY service_name, currency
		ORDER BY total DESC, service_name`,
		tenantID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cost summary: %w", err)
	}
	defer rows.Close()

	sum := &models.CostSummary{TenantID: tenantID, From: from, To: to, ByCurrency: map[string]float64{}}

	for rows.Next() {
		var sc models.ServiceCost
		if err := rows.Scan(&sc.ServiceName, &sc.Currency, &sc.Cost); err != nil {
			return nil, fmt.Errorf("scanning cost summary: %w", err)
		}

		sum.ByCurrency[sc.Currency] += sc.Cost
		if len(sum.TopServices) < top {
			sum.TopServices = append(sum.TopServices, sc)
		}
	}

	return sum, rows.Err()
}

// ComplianceSummary aggregates the most recent window of each subscription.
// SyncWindow is the newest of those and OldestSyncWindow the oldest, so a
// subscription left behind by a partial run shows up as a gap between them.
func (s *SnapshotStore) ComplianceSummary(ctx context.Context, tenantID string) (*models.ComplianceSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only transaction.

	sum := &models.ComplianceSummary{TenantID: tenantID, CompliancePercent: 100, BySeverity: map[models.Severity]int{}}

	rows, err := tx.Query(ctx, `
		WITH latest AS (
			SELECT *, MAX(sync_window) OVER (PARTITION BY subscription_id) AS latest_window
			FROM compliance_snapshots
			WHERE tenant_id = $1
		)
		SELECT MIN(sync_window), MAX(sync_window), severity,
			SUM(compliant), SUM(non_compliant), AVG(security_score)::float8
		FROM latest
		WHERE sync_window = latest_window
		GROUP BY severity`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying compliance summary: %w", err)
	}
	defer rows.Close()

	var compliant, nonCompliant int64

	for rows.Next() {
		var (
			oldest, newest time.Time
			sev            models.Severity
			c, nc          int64
			score          *float64
		)

		if err := rows.Scan(&oldest, &newest, &sev, &c, &nc, &score); err != nil {
			return nil, fmt.Errorf("scanning compliance summary: %w", err)
		}

		if sum.SyncWindow == nil || newest.After(*sum.SyncWindow) {
			sum.SyncWindow = &newest
		}

		if sum.OldestSyncWindow == nil || oldest.Before(*sum.OldestSyncWindow) {
			sum.OldestSyncWindow = &oldest
		}

		sum.BySeverity[sev] += int(nc)
		compliant += c
		nonCompliant += nc

		if score != nil {
			sum.SecurityScore = score
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if compliant+nonCompliant > 0 {
		sum.CompliancePercent = float64(compliant) / float64(compliant+nonCompliant) * 100
	}

	return sum, nil
}
