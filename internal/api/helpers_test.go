package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/resilience"
)

const (
	testTenantID  = "00000000-0000-0000-0000-000000000001"
	otherTenantID = "00000000-0000-0000-0000-000000000002"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)

	return l
}

func operator() authz.Caller {
	return authz.NewCaller("ops-key", models.RoleOperator, authz.NewTenantSet(testTenantID))
}

func fleetAdmin() authz.Caller {
	return authz.NewCaller("admin-key", models.RoleAdmin, authz.Wildcard())
}

// newTestRouter creates a gin engine whose requests carry caller, standing in
// for the auth middleware.
func newTestRouter(caller authz.Caller) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(authz.WithCaller(c.Request.Context(), caller))
		c.Next()
	})

	return r
}

// doRequest performs an HTTP request against the test router and returns the recorder.
func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

type mockSyncService struct {
	trigger func(caller authz.Caller, job models.JobType, tenantID *string) (models.TriggerResult, error)
	status  func(caller authz.Caller, job models.JobType, tenantID string) ([]models.SyncJobRun, error)
	health  models.SyncHealth
}

func (m *mockSyncService) TriggerSync(_ context.Context, caller authz.Caller, job models.JobType, tenantID *string) (models.TriggerResult, error) {
	return m.trigger(caller, job, tenantID)
}

func (m *mockSyncService) GetSyncStatus(_ context.Context, caller authz.Caller, job models.JobType, tenantID string) ([]models.SyncJobRun, error) {
	if m.status == nil {
		return nil, nil
	}
	return m.status(caller, job, tenantID)
}

func (m *mockSyncService) GetSyncHealth(context.Context) models.SyncHealth { return m.health }

type mockAnomalyService struct {
	list func(filter models.AnomalyFilter, page models.Page) ([]models.Anomaly, bool, error)
	ack  func(id, actor string) (*models.Anomaly, error)
}

func (m *mockAnomalyService) ListAnomalies(_ context.Context, _ authz.Caller, filter models.AnomalyFilter, page models.Page) ([]models.Anomaly, bool, error) {
	return m.list(filter, page)
}

func (m *mockAnomalyService) AcknowledgeAnomaly(_ context.Context, _ authz.Caller, id, actor string) (*models.Anomaly, error) {
	return m.ack(id, actor)
}

type mockReportService struct {
	err error
}

func (m *mockReportService) CostSummary(_ context.Context, _ authz.Caller, tenantID string) (*models.CostSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.CostSummary{TenantID: tenantID}, nil
}

func (m *mockReportService) ComplianceSummary(_ context.Context, _ authz.Caller, tenantID string) (*models.ComplianceSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.ComplianceSummary{TenantID: tenantID, CompliancePercent: 100}, nil
}

type mockAlertService struct {
	gotIncludeResolved bool
	resolveErr         error
}

func (m *mockAlertService) ListAlerts(_ context.Context, _ authz.Caller, includeResolved bool, _ models.Page) ([]models.Alert, bool, error) {
	m.gotIncludeResolved = includeResolved
	return nil, false, nil
}

func (m *mockAlertService) ResolveAlert(_ context.Context, _ authz.Caller, id string) (*models.Alert, error) {
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	return &models.Alert{ID: id, Resolved: true}, nil
}

type mockAuditService struct {
	purgedDays int
	gotOpts    models.AuditQueryOpts
}

func (m *mockAuditService) QueryAudit(_ context.Context, _ authz.Caller, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error) {
	m.gotOpts = opts
	return []models.AuditEntry{{ID: 1, TenantID: testTenantID, Action: models.AuditSyncTrigger}}, false, nil
}

func (m *mockAuditService) PurgeOldEntries(_ context.Context, days int) (int, error) {
	m.purgedDays = days
	return 3, nil
}

type stubFleet struct{}

func (stubFleet) FleetCounts(context.Context) (models.FleetCounts, error) {
	return models.FleetCounts{ActiveTenants: 4, OpenAnomalies: 2, OpenAlerts: 1}, nil
}

type stubBreakers struct{}

func (stubBreakers) Stats() []resilience.BreakerStats {
	return []resilience.BreakerStats{{TenantID: testTenantID, Service: "cost", State: "open", Failures: 5}}
}

type stubSchedule struct{ next time.Time }

func (s stubSchedule) NextRuns() map[models.JobType]time.Time {
	return map[models.JobType]time.Time{models.JobCost: s.next}
}
