package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/syncer"
)

// maxErrorSummary bounds the stored error summary of a run.
const maxErrorSummary = 8192

// RunStore persists sync_job_runs.
type RunStore struct {
	Base
}

// NewRunStore creates a RunStore.
func NewRunStore(base Base) *RunStore {
	return &RunStore{Base: base}
}

const runColumns = `id, job_type, tenant_id, status, trigger, started_at, finished_at,
	records_processed, COALESCE(error_summary, ''), created_at`

func scanRun(row pgx.Row) (*models.SyncJobRun, error) {
	var r models.SyncJobRun

	if err := row.Scan(&r.ID, &r.JobType, &r.TenantID, &r.Status, &r.Trigger, &r.StartedAt,
		&r.FinishedAt, &r.RecordsProcessed, &r.ErrorSummary, &r.CreatedAt); err != nil {
		return nil, err
	}

	return &r, nil
}

// CreateRun inserts a pending run.
func (s *RunStore) CreateRun(ctx context.Context, job models.JobType, tenantID string, trigger models.Trigger) (*models.SyncJobRun, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	r, err := scanRun(s.Pool.QueryRow(ctx, `
		INSERT INTO sync_job_runs (job_type, tenant_id, status, trigger)
		VALUES ($1, $2, 'pending', $3)
		RETURNING `+runColumns,
		job, tenantID, trigger,
	))
	if err != nil {
		return nil, fmt.Errorf("creating sync run: %w", err)
	}

	return r, nil
}

// MarkRunning moves a pending run to running and stamps started_at.
func (s *RunStore) MarkRunning(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx,
		"UPDATE sync_job_runs SET status = 'running', started_at = NOW() WHERE id = $1 AND status = 'pending'", id)
	if err != nil {
		return fmt.Errorf("marking sync run running: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrRunNotFound
	}

	return nil
}

// FinishRun records a terminal status. Runs already terminal are left alone.
func (s *RunStore) FinishRun(ctx context.Context, id string, status models.RunStatus, records int, summary string) error {
	if status != models.RunCompleted && status != models.RunFailed {
		return fmt.Errorf("%w: %q is not terminal", models.ErrInvalidStatus, status)
	}

	if len(summary) > maxErrorSummary {
		summary = summary[:maxErrorSummary]
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		UPDATE sync_job_runs
		SET status = $2, records_processed = $3, error_summary = NULLIF($4, ''), finished_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, status, records, summary,
	)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrRunNotFound
	}

	return nil
}

// FailOrphanedRuns fails runs a previous process left pending or running.
// Only one process runs the orchestrator against a database.
func (s *RunStore) FailOrphanedRuns(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		UPDATE sync_job_runs
		SET status = 'failed', finished_at = NOW(), error_summary = 'interrupted by restart'
		WHERE status IN ('pending', 'running')`)
	if err != nil {
		return 0, fmt.Errorf("failing orphaned runs: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ListRuns returns runs newest first, restricted to scope.
func (s *RunStore) ListRuns(ctx context.Context, scope TenantScope, f models.SyncRunFilter) ([]models.SyncJobRun, error) {
	var w whereBuilder
	if !w.scope("tenant_id", scope) {
		return nil, nil
	}

	if f.JobType != "" {
		w.add("job_type = ?", f.JobType)
	}

	if f.TenantID != "" {
		w.add("tenant_id = ?", f.TenantID)
	}

	limit := w.next(clampLimit(f.Limit, 100))

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT "+runColumns+" FROM sync_job_runs "+w.clause()+" ORDER BY created_at DESC LIMIT "+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncJobRun

	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}

		out = append(out, *r)
	}

	return out, rows.Err()
}

// KeyHealth returns, per (job type, tenant), the last completed run time and
// the number of failed runs since it.
func (s *RunStore) KeyHealth(ctx context.Context) ([]syncer.KeyHealth, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, `
		WITH last_ok AS (
			SELECT job_type, tenant_id, MAX(finished_at) AS at
			FROM sync_job_runs WHERE status = 'completed'
			GROUP BY job_type, tenant_id
		)
		SELECT k.job_type, k.tenant_id::text, l.at,
			COUNT(*) FILTER (WHERE k.status = 'failed' AND (l.at IS NULL OR k.created_at > l.at))
		FROM sync_job_runs k
		LEFT JOIN last_ok l ON l.job_type = k.job_type AND l.tenant_id = k.tenant_id
		GROUP BY k.job_type, k.tenant_id, l.at`)
	if err != nil {
		return nil, fmt.Errorf("loading sync health: %w", err)
	}
	defer rows.Close()

	var out []syncer.KeyHealth

	for rows.Next() {
		var (
			h    syncer.KeyHealth
			last *time.Time
		)

		if err := rows.Scan(&h.JobType, &h.TenantID, &last, &h.ConsecutiveFailures); err != nil {
			return nil, fmt.Errorf("scanning sync health: %w", err)
		}

		h.LastSuccess = last
		out = append(out, h)
	}

	return out, rows.Err()
}
