package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/store"
)

// Auditor is an alias for the canonical domain.Auditor interface.
type Auditor = domain.Auditor

// AuditQueryStore is the data-access interface AuditService depends on.
type AuditQueryStore interface {
	Auditor
	QueryAudit(ctx context.Context, scope store.TenantScope, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error)
	PurgeOldEntries(ctx context.Context, retentionDays int) (int, error)
}

// Compile-time check: *AuditService must satisfy domain.AuditService.
var _ domain.AuditService = (*AuditService)(nil)

// AuditService scopes audit reads to the caller and logs purges.
type AuditService struct {
	store AuditQueryStore
	log   *logrus.Logger
}

// NewAuditService creates an AuditService.
func NewAuditService(store AuditQueryStore, log *logrus.Logger) *AuditService {
	return &AuditService{store: store, log: log}
}

// QueryAudit returns audit entries for the caller's tenants. Fleet-wide
// entries are only visible to wildcard callers.
func (s *AuditService) QueryAudit(
	ctx context.Context, caller authz.Caller, opts models.AuditQueryOpts,
) ([]models.AuditEntry, bool, error) {
	return s.store.QueryAudit(ctx, scopeFor(caller), opts)
}

// PurgeOldEntries deletes audit entries older than retentionDays and logs the result.
func (s *AuditService) PurgeOldEntries(ctx context.Context, retentionDays int) (int, error) {
	deleted, err := s.store.PurgeOldEntries(ctx, retentionDays)
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"retention_days": retentionDays,
		"deleted":        deleted,
	}).Info("audit.purge")

	return deleted, nil
}

// scopeFor converts a caller's tenant set into a store filter.
func scopeFor(c authz.Caller) store.TenantScope {
	set := authz.AuthorizedTenants(c)
	if set.All {
		return store.TenantScope{All: true}
	}

	return store.TenantScope{IDs: set.IDs()}
}
