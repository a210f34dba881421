// Package service provides business logic between API handlers and data stores.
package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/store"
)

// Compile-time check: *SyncService must satisfy domain.SyncService.
var _ domain.SyncService = (*SyncService)(nil)

// Orchestrator is the part of syncer.Orchestrator the service layer drives.
type Orchestrator interface {
	Trigger(ctx context.Context, job models.JobType, tenantID string, trigger models.Trigger) (models.TriggerResult, error)
	Health() models.SyncHealth
}

// RunLister lists sync runs in a tenant scope.
type RunLister interface {
	ListRuns(ctx context.Context, scope store.TenantScope, f models.SyncRunFilter) ([]models.SyncJobRun, error)
}

// SyncService authorizes manual triggers and status reads.
type SyncService struct {
	orch        Orchestrator
	runs        RunLister
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewSyncService creates a SyncService.
func NewSyncService(orch Orchestrator, runs RunLister, auditWorker AuditEnqueuer, log *logrus.Logger) *SyncService {
	return &SyncService{orch: orch, runs: runs, auditWorker: auditWorker, log: log}
}

// TriggerSync starts jobType for one tenant, or for every active tenant when
// tenantID is nil. A fleet-wide trigger needs a wildcard grant.
func (s *SyncService) TriggerSync(
	ctx context.Context, caller authz.Caller, jobType models.JobType, tenantID *string,
) (models.TriggerResult, error) {
	if _, err := models.ParseJobType(string(jobType)); err != nil {
		return models.TriggerResult{}, err
	}

	if !authz.CanOperate(caller) {
		return models.TriggerResult{}, models.ErrInsufficientRole
	}

	target := ""

	if tenantID != nil {
		if err := models.ValidateTenantID(*tenantID); err != nil {
			return models.TriggerResult{}, err
		}

		if err := authz.ValidateAccess(*tenantID, caller); err != nil {
			return models.TriggerResult{}, err
		}

		target = *tenantID
	} else if !authz.AuthorizedTenants(caller).All {
		return models.TriggerResult{}, models.ErrTenantAccessDenied
	}

	res, err := s.orch.Trigger(ctx, jobType, target, models.TriggerManual)
	if err != nil {
		return res, err
	}

	s.log.WithFields(logrus.Fields{
		"job_type":  jobType,
		"tenant_id": target,
		"caller":    caller.ID,
		"outcome":   res.Outcome(),
	}).Info("sync.trigger")

	recordAudit(s.auditWorker, models.AuditEntry{
		TenantID:   target,
		Action:     models.AuditSyncTrigger,
		EntityType: models.AuditEntitySyncJob,
		EntityID:   string(jobType),
		Actor:      caller.Name,
		Detail:     map[string]any{"outcome": res.Outcome(), "tenants": len(res.Tenants)},
	})

	return res, nil
}

// GetSyncStatus returns recent runs visible to caller, optionally narrowed
// to one job type and tenant.
func (s *SyncService) GetSyncStatus(
	ctx context.Context, caller authz.Caller, jobType models.JobType, tenantID string,
) ([]models.SyncJobRun, error) {
	if jobType != "" {
		if _, err := models.ParseJobType(string(jobType)); err != nil {
			return nil, err
		}
	}

	if tenantID != "" {
		if err := models.ValidateTenantID(tenantID); err != nil {
			return nil, err
		}

		if err := authz.ValidateAccess(tenantID, caller); err != nil {
			return nil, err
		}
	}

	runs, err := s.runs.ListRuns(ctx, scopeFor(caller), models.SyncRunFilter{JobType: jobType, TenantID: tenantID})
	if err != nil {
		return nil, err
	}

	return authz.Filter(runs, caller), nil
}

// GetSyncHealth reports aggregate sync health. It carries no tenant data.
func (s *SyncService) GetSyncHealth(_ context.Context) models.SyncHealth {
	return s.orch.Health()
}
