package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/tenantwatch/internal/models"
)

// TenantStore reads the tenant registry. Tenants are written by the external
// registry, never by tenantwatch.
type TenantStore struct {
	Base
}

// NewTenantStore creates a TenantStore.
func NewTenantStore(base Base) *TenantStore {
	return &TenantStore{Base: base}
}

const tenantColumns = `id, directory_id, display_name, is_active, auth_mode,
	COALESCE(client_id, ''), client_secret_sealed, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant

	if err := row.Scan(&t.ID, &t.DirectoryID, &t.DisplayName, &t.IsActive, &t.AuthMode,
		&t.ClientID, &t.ClientSecretSealed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	return &t, nil
}

// GetTenant returns one tenant, active or not.
func (s *TenantStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	if err := models.ValidateTenantID(id); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	t, err := scanTenant(s.Pool.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("getting tenant: %w", notFound(err, models.ErrTenantNotFound))
	}

	return t, nil
}

// ListActiveTenants returns active tenants ordered by id, which is the order
// in which scheduled syncs are staggered.
func (s *TenantStore) ListActiveTenants(ctx context.Context) ([]models.Tenant, error) {
	return s.list(ctx, "WHERE is_active")
}

// ListTenants returns every tenant.
func (s *TenantStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	return s.list(ctx, "")
}

func (s *TenantStore) list(ctx context.Context, where string) ([]models.Tenant, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, "SELECT "+tenantColumns+" FROM tenants "+where+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []models.Tenant

	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}

		out = append(out, *t)
	}

	return out, rows.Err()
}

// FleetCounts returns fleet-wide totals in one round trip.
func (s *TenantStore) FleetCounts(ctx context.Context) (models.FleetCounts, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var fc models.FleetCounts

	err := s.Pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM tenants WHERE is_active),
			(SELECT COUNT(*) FROM anomalies WHERE status = 'open'),
			(SELECT COUNT(*) FROM alerts WHERE NOT resolved),
			(SELECT COUNT(*) FROM sync_job_runs WHERE status IN ('pending', 'running'))`,
	).Scan(&fc.ActiveTenants, &fc.OpenAnomalies, &fc.OpenAlerts, &fc.RunningSyncs)
	if err != nil {
		return fc, fmt.Errorf("counting fleet: %w", err)
	}

	return fc, nil
}
