package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/tenantwatch/internal/models"
)

// AnomalyStore persists detected cost anomalies.
type AnomalyStore struct {
	Base
}

// NewAnomalyStore creates an AnomalyStore.
func NewAnomalyStore(base Base) *AnomalyStore {
	return &AnomalyStore{Base: base}
}

const anomalyColumns = `id, tenant_id, snapshot_id, service_name, usage_date, expected_cost::float8,
	actual_cost::float8, variance_percent, status, COALESCE(acknowledged_by, ''), acknowledged_at, created_at`

func scanAnomaly(row pgx.Row) (*models.Anomaly, error) {
	var a models.Anomaly

	if err := row.Scan(&a.ID, &a.TenantID, &a.SnapshotID, &a.ServiceName, &a.UsageDate, &a.ExpectedCost,
		&a.ActualCost, &a.VariancePercent, &a.Status, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
		return nil, err
	}

	return &a, nil
}

// InsertAnomalies records new anomalies and returns the ones actually
// inserted. A (tenant, service, day) already flagged keeps its first record,
// so an acknowledged anomaly is never reopened by a later sync.
func (s *AnomalyStore) InsertAnomalies(ctx context.Context, tenantID string, in []models.Anomaly) ([]models.Anomaly, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	var out []models.Anomaly

	for _, a := range in {
		row := tx.QueryRow(ctx, `
			INSERT INTO anomalies
				(tenant_id, snapshot_id, service_name, usage_date, expected_cost, actual_cost, variance_percent)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, service_name, usage_date) DO NOTHING
			RETURNING `+anomalyColumns,
			tenantID, a.SnapshotID, a.ServiceName, a.UsageDate, a.ExpectedCost, a.ActualCost, a.VariancePercent,
		)

		got, err := scanAnomaly(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}

			return nil, fmt.Errorf("inserting anomaly: %w", err)
		}

		out = append(out, *got)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing anomalies: %w", err)
	}

	return out, nil
}

// ListAnomalies returns anomalies in scope matching f, newest day first.
// The boolean reports whether more rows follow the page.
func (s *AnomalyStore) ListAnomalies(ctx context.Context, scope TenantScope, f models.AnomalyFilter, page models.Page) ([]models.Anomaly, bool, error) {
	page = page.Normalize()

	var w whereBuilder
	if !w.scope("tenant_id", scope) {
		return nil, false, nil
	}

	if f.TenantID != "" {
		w.add("tenant_id = ?", f.TenantID)
	}

	if f.Status != "" {
		w.add("status = ?", f.Status)
	}

	if f.Since != nil {
		w.add("usage_date >= ?", *f.Since)
	}

	limit := w.next(page.Limit + 1)
	offset := w.next(page.Offset)

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT "+anomalyColumns+" FROM anomalies "+w.clause()+
			" ORDER BY usage_date DESC, variance_percent DESC, id LIMIT "+limit+" OFFSET "+offset,
		w.args...)
	if err != nil {
		return nil, false, fmt.Errorf("listing anomalies: %w", err)
	}
	defer rows.Close()

	var out []models.Anomaly

	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scanning anomaly: %w", err)
		}

		out = append(out, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > page.Limit
	if hasMore {
		out = out[:page.Limit]
	}

	return out, hasMore, nil
}

// GetAnomaly returns one anomaly by id.
func (s *AnomalyStore) GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	a, err := scanAnomaly(s.Pool.QueryRow(ctx, "SELECT "+anomalyColumns+" FROM anomalies WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("getting anomaly: %w", notFound(err, models.ErrAnomalyNotFound))
	}

	return a, nil
}

// AcknowledgeAnomaly moves an open anomaly to acknowledged. Acknowledged is
// terminal: a second acknowledgement returns ErrAlreadyAcknowledged.
func (s *AnomalyStore) AcknowledgeAnomaly(ctx context.Context, id, actor string) (*models.Anomaly, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	a, err := scanAnomaly(s.Pool.QueryRow(ctx, `
		UPDATE anomalies SET status = 'acknowledged', acknowledged_by = $2, acknowledged_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING `+anomalyColumns,
		id, actor,
	))
	if err == nil {
		return a, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("acknowledging anomaly: %w", err)
	}

	if _, getErr := s.GetAnomaly(ctx, id); getErr != nil {
		return nil, getErr
	}

	return nil, models.ErrAlreadyAcknowledged
}
