package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/anomaly"
	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/metrics"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/store"
)

// detectDays is how many recent usage days are evaluated after each cost sync.
const detectDays = 7

// Compile-time check: *AnomalyService must satisfy domain.AnomalyService.
var _ domain.AnomalyService = (*AnomalyService)(nil)

// AnomalyStore is the data-access interface AnomalyService depends on.
type AnomalyStore interface {
	InsertAnomalies(ctx context.Context, tenantID string, in []models.Anomaly) ([]models.Anomaly, error)
	ListAnomalies(ctx context.Context, scope store.TenantScope, f models.AnomalyFilter, page models.Page) ([]models.Anomaly, bool, error)
	GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error)
	AcknowledgeAnomaly(ctx context.Context, id, actor string) (*models.Anomaly, error)
}

// CostHistory reads daily cost totals.
type CostHistory interface {
	DailyCostHistory(ctx context.Context, tenantID string, since time.Time) ([]models.DailyCost, error)
}

// AlertRaiser persists alerts.
type AlertRaiser interface {
	RaiseAlert(ctx context.Context, a *models.Alert) error
}

// AnomalyService runs detection after cost syncs and serves the findings.
type AnomalyService struct {
	store       AnomalyStore
	history     CostHistory
	alerts      AlertRaiser
	detector    *anomaly.Detector
	auditWorker AuditEnqueuer
	log         *logrus.Logger
	now         func() time.Time
}

// NewAnomalyService creates an AnomalyService.
func NewAnomalyService(
	store AnomalyStore, history CostHistory, alerts AlertRaiser, detector *anomaly.Detector,
	auditWorker AuditEnqueuer, log *logrus.Logger,
) *AnomalyService {
	return &AnomalyService{
		store:       store,
		history:     history,
		alerts:      alerts,
		detector:    detector,
		auditWorker: auditWorker,
		log:         log,
		now:         time.Now,
	}
}

// ListAnomalies returns anomalies visible to caller. Naming a tenant outside
// the caller's set is an error, not an empty page.
func (s *AnomalyService) ListAnomalies(
	ctx context.Context, caller authz.Caller, filter models.AnomalyFilter, page models.Page,
) ([]models.Anomaly, bool, error) {
	if err := filter.Validate(); err != nil {
		return nil, false, err
	}

	if filter.TenantID != "" {
		if err := authz.ValidateAccess(filter.TenantID, caller); err != nil {
			return nil, false, err
		}
	}

	items, hasMore, err := s.store.ListAnomalies(ctx, scopeFor(caller), filter, page.Normalize())
	if err != nil {
		return nil, false, err
	}

	return authz.Filter(items, caller), hasMore, nil
}

// AcknowledgeAnomaly moves an open anomaly to acknowledged. Anomalies in
// tenants the caller cannot see are reported as access denied.
func (s *AnomalyService) AcknowledgeAnomaly(
	ctx context.Context, caller authz.Caller, id, actor string,
) (*models.Anomaly, error) {
	if actor == "" {
		return nil, models.ErrMissingActor
	}

	if !authz.CanOperate(caller) {
		return nil, models.ErrInsufficientRole
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrAnomalyNotFound
	}

	current, err := s.store.GetAnomaly(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := authz.ValidateAccess(current.TenantID, caller); err != nil {
		return nil, err
	}

	acked, err := s.store.AcknowledgeAnomaly(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditWorker, models.AuditEntry{
		TenantID:   acked.TenantID,
		Action:     models.AuditAnomalyAcknowledge,
		EntityType: models.AuditEntityAnomaly,
		EntityID:   acked.ID,
		Actor:      actor,
		Detail:     map[string]any{"service_name": acked.ServiceName, "caller": caller.ID},
	})

	return acked, nil
}

// DetectForTenant evaluates the recent cost history of one tenant, records
// new anomalies and raises one alert per new anomaly. Anomalies already on
// record, acknowledged or not, are left untouched.
func (s *AnomalyService) DetectForTenant(ctx context.Context, tenantID string) error {
	since := s.now().UTC().AddDate(0, 0, -detectDays)

	history, err := s.history.DailyCostHistory(ctx, tenantID, s.detector.HistoryStart(since))
	if err != nil {
		return fmt.Errorf("loading cost history: %w", err)
	}

	findings := s.detector.Detect(history, since)
	if len(findings) == 0 {
		return nil
	}

	candidates := make([]models.Anomaly, 0, len(findings))
	for _, f := range findings {
		candidates = append(candidates, models.Anomaly{
			TenantID:        tenantID,
			SnapshotID:      f.SnapshotID,
			ServiceName:     f.ServiceName,
			UsageDate:       f.UsageDate,
			ExpectedCost:    f.Expected,
			ActualCost:      f.Actual,
			VariancePercent: f.VariancePercent,
		})
	}

	inserted, err := s.store.InsertAnomalies(ctx, tenantID, candidates)
	if err != nil {
		return fmt.Errorf("recording anomalies: %w", err)
	}

	metrics.AnomaliesDetectedTotal.Add(float64(len(inserted)))

	var errs *multierror.Error

	for i := range inserted {
		a := &inserted[i]

		alert := &models.Alert{
			TenantID: tenantID,
			Source:   models.AlertAnomaly,
			JobType:  models.JobCost,
			Severity: anomaly.AlertSeverity(a.VariancePercent),
			Message: fmt.Sprintf("%s spend on %s was %.2f against a baseline of %.2f (%+.1f%%)",
				a.ServiceName, a.UsageDate.Format(time.DateOnly), a.ActualCost, a.ExpectedCost, a.VariancePercent),
		}

		if err := s.alerts.RaiseAlert(ctx, alert); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		metrics.AlertsRaisedTotal.WithLabelValues(string(models.AlertAnomaly)).Inc()
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"findings":  len(findings),
		"new":       len(inserted),
	}).Info("anomaly.detect")

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("raising anomaly alerts: %w", err)
	}

	return nil
}
