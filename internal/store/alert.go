package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/tenantwatch/internal/models"
)

// AlertStore persists operator alerts.
type AlertStore struct {
	Base
}

// NewAlertStore creates an AlertStore.
func NewAlertStore(base Base) *AlertStore {
	return &AlertStore{Base: base}
}

const alertColumns = `id, tenant_id, source, COALESCE(job_type, ''), severity, message, resolved, resolved_at, created_at`

func scanAlert(row pgx.Row) (*models.Alert, error) {
	var a models.Alert

	if err := row.Scan(&a.ID, &a.TenantID, &a.Source, &a.JobType, &a.Severity, &a.Message,
		&a.Resolved, &a.ResolvedAt, &a.CreatedAt); err != nil {
		return nil, err
	}

	return &a, nil
}

// RaiseAlert inserts a and fills its generated fields.
func (s *AlertStore) RaiseAlert(ctx context.Context, a *models.Alert) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	got, err := scanAlert(s.Pool.QueryRow(ctx, `
		INSERT INTO alerts (tenant_id, source, job_type, severity, message)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING `+alertColumns,
		a.TenantID, a.Source, a.JobType, a.Severity, a.Message,
	))
	if err != nil {
		return fmt.Errorf("raising alert: %w", err)
	}

	*a = *got

	return nil
}

// ListAlerts returns alerts in scope, newest first. Resolved alerts are
// included only when includeResolved is set.
func (s *AlertStore) ListAlerts(ctx context.Context, scope TenantScope, includeResolved bool, page models.Page) ([]models.Alert, bool, error) {
	page = page.Normalize()

	var w whereBuilder
	if !w.scope("tenant_id", scope) {
		return nil, false, nil
	}

	if !includeResolved {
		w.conds = append(w.conds, "NOT resolved")
	}

	limit := w.next(page.Limit + 1)
	offset := w.next(page.Offset)

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT "+alertColumns+" FROM alerts "+w.clause()+" ORDER BY created_at DESC, id LIMIT "+limit+" OFFSET "+offset,
		w.args...)
	if err != nil {
		return nil, false, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert

	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scanning alert: %w", err)
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

// GetAlert returns one alert by id.
func (s *AlertStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	a, err := scanAlert(s.Pool.QueryRow(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("getting alert: %w", notFound(err, models.ErrAlertNotFound))
	}

	return a, nil
}

// ResolveAlert marks an alert resolved. Resolving twice is a no-op.
func (s *AlertStore) ResolveAlert(ctx context.Context, id string) (*models.Alert, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	a, err := scanAlert(s.Pool.QueryRow(ctx, `
		UPDATE alerts SET resolved = TRUE, resolved_at = COALESCE(resolved_at, NOW())
		WHERE id = $1
		RETURNING `+alertColumns,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("resolving alert: %w", notFound(err, models.ErrAlertNotFound))
	}

	return a, nil
}
