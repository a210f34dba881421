package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/store"
)

// Compile-time check: *AlertService must satisfy domain.AlertService.
var _ domain.AlertService = (*AlertService)(nil)

// AlertStore is the data-access interface AlertService depends on.
type AlertStore interface {
	ListAlerts(ctx context.Context, scope store.TenantScope, includeResolved bool, page models.Page) ([]models.Alert, bool, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ResolveAlert(ctx context.Context, id string) (*models.Alert, error)
}

// AlertService scopes alert reads and records resolutions.
type AlertService struct {
	store       AlertStore
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewAlertService creates an AlertService.
func NewAlertService(store AlertStore, auditWorker AuditEnqueuer, log *logrus.Logger) *AlertService {
	return &AlertService{store: store, auditWorker: auditWorker, log: log}
}

// ListAlerts returns alerts in the caller's tenants, newest first.
func (s *AlertService) ListAlerts(
	ctx context.Context, caller authz.Caller, includeResolved bool, page models.Page,
) ([]models.Alert, bool, error) {
	items, hasMore, err := s.store.ListAlerts(ctx, scopeFor(caller), includeResolved, page.Normalize())
	if err != nil {
		return nil, false, err
	}

	return authz.Filter(items, caller), hasMore, nil
}

// ResolveAlert marks an alert resolved. Resolving twice is not an error.
func (s *AlertService) ResolveAlert(ctx context.Context, caller authz.Caller, id string) (*models.Alert, error) {
	if !authz.CanOperate(caller) {
		return nil, models.ErrInsufficientRole
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrAlertNotFound
	}

	current, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := authz.ValidateAccess(current.TenantID, caller); err != nil {
		return nil, err
	}

	if current.Resolved {
		return current, nil
	}

	resolved, err := s.store.ResolveAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditWorker, models.AuditEntry{
		TenantID:   resolved.TenantID,
		Action:     models.AuditAlertResolve,
		EntityType: models.AuditEntityAlert,
		EntityID:   resolved.ID,
		Actor:      caller.Name,
		Detail:     map[string]any{"source": resolved.Source, "job_type": resolved.JobType},
	})

	return resolved, nil
}
