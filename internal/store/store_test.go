package store_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/dbpool"
	"github.com/persistorai/tenantwatch/internal/store"
)

// testEnv holds shared test infrastructure (single pool across all tests).
type testEnv struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

var sharedEnv *testEnv

func getTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if sharedEnv != nil {
		return sharedEnv
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := dbpool.NewPool(context.Background(), dbURL, dbpool.Options{MaxConns: 5, AppName: "tenantwatch-test"})
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	sharedEnv = &testEnv{pool: pool, log: log}

	return sharedEnv
}

// execAsTenant runs statements in a transaction pinned to tenantID so row
// level security lets them through.
func execAsTenant(t *testing.T, tenantID string, stmts ...string) {
	t.Helper()

	env := getTestEnv(t)
	ctx := context.Background()

	tx, err := env.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // test cleanup.

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		t.Fatalf("set tenant: %v", err)
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt, tenantID); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// setupTestBase creates a Base with a fresh active tenant, cleaned up after the test.
func setupTestBase(t *testing.T) (_ store.Base, _ string) {
	t.Helper()

	env := getTestEnv(t)
	tenantID := uuid.New().String()
	ctx := context.Background()

	_, err := env.pool.Exec(ctx,
		"INSERT INTO tenants (id, directory_id, display_name) VALUES ($1, $1, $2)",
		tenantID, fmt.Sprintf("test-tenant-%s", tenantID[:8]),
	)
	if err != nil {
		t.Fatalf("creating test tenant: %v", err)
	}

	t.Cleanup(func() {
		// Delete in dependency order.
		execAsTenant(t, tenantID,
			"DELETE FROM audit_log WHERE tenant_id = $1",
			"DELETE FROM alerts WHERE tenant_id = $1",
			"DELETE FROM anomalies WHERE tenant_id = $1",
			"DELETE FROM cost_snapshots WHERE tenant_id = $1",
			"DELETE FROM compliance_snapshots WHERE tenant_id = $1",
			"DELETE FROM resource_snapshots WHERE tenant_id = $1",
			"DELETE FROM identity_snapshots WHERE tenant_id = $1",
			"DELETE FROM sync_job_runs WHERE tenant_id = $1",
			"DELETE FROM tenants WHERE id = $1",
		)
	})

	return store.Base{Pool: env.pool, Log: env.log}, tenantID
}

func TestTenantStore(t *testing.T) {
	base, tenantID := setupTestBase(t)
	ts := store.NewTenantStore(base)
	ctx := context.Background()

	got, err := ts.GetTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}

	if !got.IsActive || got.DirectoryID != tenantID {
		t.Errorf("unexpected tenant: %+v", got)
	}

	active, err := ts.ListActiveTenants(ctx)
	if err != nil {
		t.Fatalf("ListActiveTenants: %v", err)
	}

	found := false
	for _, a := range active {
		if a.ID == tenantID {
			found = true
		}
	}

	if !found {
		t.Error("active tenant missing from ListActiveTenants")
	}

	if _, err := ts.GetTenant(ctx, uuid.NewString()); err == nil {
		t.Error("expected error for unknown tenant")
	}
}

func TestFleetCounts(t *testing.T) {
	base, _ := setupTestBase(t)
	ts := store.NewTenantStore(base)

	fc, err := ts.FleetCounts(context.Background())
	if err != nil {
		t.Fatalf("FleetCounts: %v", err)
	}

	if fc.ActiveTenants < 1 {
		t.Errorf("expected at least the test tenant to be active, got %d", fc.ActiveTenants)
	}
}
