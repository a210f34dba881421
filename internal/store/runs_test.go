package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/store"
)

func TestRunLifecycle(t *testing.T) {
	base, tenantID := setupTestBase(t)
	rs := store.NewRunStore(base)
	ctx := context.Background()

	run, err := rs.CreateRun(ctx, models.JobCost, tenantID, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunPending, run.Status)

	require.NoError(t, rs.MarkRunning(ctx, run.ID))
	require.NoError(t, rs.FinishRun(ctx, run.ID, models.RunCompleted, 42, ""))

	err = rs.FinishRun(ctx, run.ID, models.RunFailed, 0, "late")
	assert.True(t, errors.Is(err, models.ErrRunNotFound), "terminal runs are not rewritten")

	failed, err := rs.CreateRun(ctx, models.JobCost, tenantID, models.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, rs.FinishRun(ctx, failed.ID, models.RunFailed, 0, "upstream down"))

	runs, err := rs.ListRuns(ctx, store.TenantScope{IDs: []string{tenantID}}, models.SyncRunFilter{JobType: models.JobCost})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, 42, runs[1].RecordsProcessed)

	health, err := rs.KeyHealth(ctx)
	require.NoError(t, err)

	for _, h := range health {
		if h.TenantID == tenantID && h.JobType == models.JobCost {
			assert.Equal(t, 1, h.ConsecutiveFailures)
			assert.NotNil(t, h.LastSuccess)
		}
	}

	none, err := rs.ListRuns(ctx, store.TenantScope{}, models.SyncRunFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFailOrphanedRuns(t *testing.T) {
	base, tenantID := setupTestBase(t)
	rs := store.NewRunStore(base)
	ctx := context.Background()

	run, err := rs.CreateRun(ctx, models.JobIdentity, tenantID, models.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, rs.MarkRunning(ctx, run.ID))

	n, err := rs.FailOrphanedRuns(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	runs, err := rs.ListRuns(ctx, store.TenantScope{IDs: []string{tenantID}}, models.SyncRunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
}
