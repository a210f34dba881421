package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/cache"
	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/models"
)

const (
	costSummaryDays = 30
	costTopServices = 10
)

// Compile-time check: *ReportService must satisfy domain.ReportService.
var _ domain.ReportService = (*ReportService)(nil)

// SummaryStore computes the per-tenant aggregates.
type SummaryStore interface {
	CostSummary(ctx context.Context, tenantID string, from, to time.Time, top int) (*models.CostSummary, error)
	ComplianceSummary(ctx context.Context, tenantID string) (*models.ComplianceSummary, error)
}

// ReportService serves cached summaries. Entries are dropped per (tenant,
// job type) when the matching sync completes.
type ReportService struct {
	store SummaryStore
	cache *cache.Cache
	log   *logrus.Logger
	now   func() time.Time
}

// NewReportService creates a ReportService.
func NewReportService(store SummaryStore, c *cache.Cache, log *logrus.Logger) *ReportService {
	return &ReportService{store: store, cache: c, log: log, now: time.Now}
}

// CostSummary returns spend over the last 30 days for one tenant.
func (s *ReportService) CostSummary(ctx context.Context, caller authz.Caller, tenantID string) (*models.CostSummary, error) {
	if err := s.authorize(tenantID, caller); err != nil {
		return nil, err
	}

	key := cache.Key{TenantID: tenantID, Domain: string(models.JobCost), View: "summary"}

	return cache.Load(ctx, s.cache, key, func(ctx context.Context) (*models.CostSummary, error) {
		now := s.now().UTC()
		to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

		sum, err := s.store.CostSummary(ctx, tenantID, to.AddDate(0, 0, -costSummaryDays), to, costTopServices)
		if err != nil {
			return nil, err
		}

		sum.GeneratedAt = now

		return sum, nil
	})
}

// ComplianceSummary returns the latest compliance aggregate for one tenant.
func (s *ReportService) ComplianceSummary(ctx context.Context, caller authz.Caller, tenantID string) (*models.ComplianceSummary, error) {
	if err := s.authorize(tenantID, caller); err != nil {
		return nil, err
	}

	key := cache.Key{TenantID: tenantID, Domain: string(models.JobCompliance), View: "summary"}

	return cache.Load(ctx, s.cache, key, func(ctx context.Context) (*models.ComplianceSummary, error) {
		sum, err := s.store.ComplianceSummary(ctx, tenantID)
		if err != nil {
			return nil, err
		}

		sum.GeneratedAt = s.now().UTC()

		return sum, nil
	})
}

func (s *ReportService) authorize(tenantID string, caller authz.Caller) error {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return err
	}

	return authz.ValidateAccess(tenantID, caller)
}
