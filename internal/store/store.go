// Package store provides single-concern data access stores for tenantwatch.
//
// Each store owns one table family (tenants, runs, snapshots, anomalies,
// alerts, API keys, audit) and embeds the shared helpers in Base. Stores
// never import each other.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/dbpool"
	"github.com/persistorai/tenantwatch/internal/models"
)

// Statement deadline for store calls that do not bring a tighter one.
const defaultQueryTimeout = 30 * time.Second

// Base carries what every store needs.
type Base struct {
	Pool *dbpool.Pool
	Log  *logrus.Logger
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// beginTx opens a read-write transaction under row level security for tenantID.
func (b *Base) beginTx(ctx context.Context, tenantID string) (pgx.Tx, error) {
	return b.beginTenant(ctx, tenantID, pgx.ReadWrite)
}

// beginReadTx is beginTx for read-only work.
func (b *Base) beginReadTx(ctx context.Context, tenantID string) (pgx.Tx, error) {
	return b.beginTenant(ctx, tenantID, pgx.ReadOnly)
}

// beginTenant validates tenantID before any connection is used, then pins
// app.tenant_id for the life of the transaction.
func (b *Base) beginTenant(ctx context.Context, tenantID string, mode pgx.TxAccessMode) (pgx.Tx, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tenantID, models.ErrInvalidTenantID)
	}

	tx, err := b.Pool.BeginTx(ctx, pgx.TxOptions{AccessMode: mode})
	if err != nil {
		return nil, fmt.Errorf("beginning %s transaction: %w", mode, err)
	}

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		tx.Rollback(ctx) //nolint:errcheck // the set_config error is the one worth returning

		return nil, fmt.Errorf("pinning tenant %s: %w", tenantID, err)
	}

	return tx, nil
}

// TenantScope restricts a cross-tenant listing. The zero value matches nothing;
// All must be set explicitly.
type TenantScope struct {
	All bool
	IDs []string
}

// Empty reports whether the scope can match no rows.
func (s TenantScope) Empty() bool { return !s.All && len(s.IDs) == 0 }

// SQLSTATE unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// notFound maps pgx.ErrNoRows to sentinel and passes anything else through.
func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}

	return err
}
