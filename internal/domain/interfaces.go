// Package domain defines the canonical service interfaces shared across API
// layers (REST handlers, CLI client). Consumers should depend on these
// interfaces rather than re-declaring equivalent ones.
package domain

import (
	"context"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/models"
)

// SyncService defines manual triggers and sync status reads.
type SyncService interface {
	TriggerSync(ctx context.Context, caller authz.Caller, jobType models.JobType, tenantID *string) (models.TriggerResult, error)
	GetSyncStatus(ctx context.Context, caller authz.Caller, jobType models.JobType, tenantID string) ([]models.SyncJobRun, error)
	GetSyncHealth(ctx context.Context) models.SyncHealth
}

// AnomalyService defines cost anomaly reads and acknowledgement.
type AnomalyService interface {
	ListAnomalies(ctx context.Context, caller authz.Caller, filter models.AnomalyFilter, page models.Page) ([]models.Anomaly, bool, error)
	AcknowledgeAnomaly(ctx context.Context, caller authz.Caller, id, actor string) (*models.Anomaly, error)
}

// ReportService defines the cached per-tenant summaries.
type ReportService interface {
	CostSummary(ctx context.Context, caller authz.Caller, tenantID string) (*models.CostSummary, error)
	ComplianceSummary(ctx context.Context, caller authz.Caller, tenantID string) (*models.ComplianceSummary, error)
}

// AlertService defines alert reads and resolution.
type AlertService interface {
	ListAlerts(ctx context.Context, caller authz.Caller, includeResolved bool, page models.Page) ([]models.Alert, bool, error)
	ResolveAlert(ctx context.Context, caller authz.Caller, id string) (*models.Alert, error)
}

// AuditService defines audit log operations.
type AuditService interface {
	QueryAudit(ctx context.Context, caller authz.Caller, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error)
	PurgeOldEntries(ctx context.Context, retentionDays int) (int, error)
}

// Auditor records audit entries. tenantID is empty for fleet-wide actions.
type Auditor interface {
	RecordAudit(ctx context.Context, tenantID, action, entityType, entityID, actor string, detail map[string]any) error
}
