package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/store"
)

const (
	tenantA = "6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f"
	tenantB = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// mockAuditor records audit calls.
type mockAuditor struct {
	mu    sync.Mutex
	calls []models.AuditEntry

	err error
}

func (m *mockAuditor) RecordAudit(ctx context.Context, tenantID, action, entityType, entityID, actor string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, models.AuditEntry{
		TenantID:   tenantID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Detail:     detail,
	})
	return m.err
}

func (m *mockAuditor) getCalls() []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]models.AuditEntry, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// mockEnqueuer captures audit jobs synchronously.
type mockEnqueuer struct {
	mu   sync.Mutex
	jobs []models.AuditEntry
}

func (m *mockEnqueuer) Enqueue(entry models.AuditEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, entry)
}

func (m *mockEnqueuer) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Action)
	}
	return out
}

// mockOrchestrator returns configured trigger results.
type mockOrchestrator struct {
	trigger func(ctx context.Context, job models.JobType, tenantID string, trigger models.Trigger) (models.TriggerResult, error)
	health  models.SyncHealth
}

func (m *mockOrchestrator) Trigger(ctx context.Context, job models.JobType, tenantID string, trigger models.Trigger) (models.TriggerResult, error) {
	return m.trigger(ctx, job, tenantID, trigger)
}

func (m *mockOrchestrator) Health() models.SyncHealth { return m.health }

// mockRunLister returns configured runs and records the scope it was given.
type mockRunLister struct {
	runs      []models.SyncJobRun
	gotScope  store.TenantScope
	gotFilter models.SyncRunFilter
}

func (m *mockRunLister) ListRuns(_ context.Context, scope store.TenantScope, f models.SyncRunFilter) ([]models.SyncJobRun, error) {
	m.gotScope = scope
	m.gotFilter = f
	return m.runs, nil
}

// mockAnomalyStore records calls and returns configured responses.
type mockAnomalyStore struct {
	mu    sync.Mutex
	calls []string

	insert      func(ctx context.Context, tenantID string, in []models.Anomaly) ([]models.Anomaly, error)
	list        func(ctx context.Context, scope store.TenantScope, f models.AnomalyFilter, page models.Page) ([]models.Anomaly, bool, error)
	get         func(ctx context.Context, id string) (*models.Anomaly, error)
	acknowledge func(ctx context.Context, id, actor string) (*models.Anomaly, error)
}

func (m *mockAnomalyStore) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

func (m *mockAnomalyStore) InsertAnomalies(ctx context.Context, tenantID string, in []models.Anomaly) ([]models.Anomaly, error) {
	m.record("InsertAnomalies")
	return m.insert(ctx, tenantID, in)
}

func (m *mockAnomalyStore) ListAnomalies(ctx context.Context, scope store.TenantScope, f models.AnomalyFilter, page models.Page) ([]models.Anomaly, bool, error) {
	m.record("ListAnomalies")
	return m.list(ctx, scope, f, page)
}

func (m *mockAnomalyStore) GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error) {
	m.record("GetAnomaly")
	return m.get(ctx, id)
}

func (m *mockAnomalyStore) AcknowledgeAnomaly(ctx context.Context, id, actor string) (*models.Anomaly, error) {
	m.record("AcknowledgeAnomaly")
	return m.acknowledge(ctx, id, actor)
}

// mockHistory returns a fixed cost history.
type mockHistory struct {
	history  []models.DailyCost
	gotSince time.Time
}

func (m *mockHistory) DailyCostHistory(_ context.Context, _ string, since time.Time) ([]models.DailyCost, error) {
	m.gotSince = since
	return m.history, nil
}

// mockAlerts records raised alerts.
type mockAlerts struct {
	mu     sync.Mutex
	raised []models.Alert

	getAlert func(ctx context.Context, id string) (*models.Alert, error)
	resolve  func(ctx context.Context, id string) (*models.Alert, error)
	list     func(ctx context.Context, scope store.TenantScope, includeResolved bool, page models.Page) ([]models.Alert, bool, error)
}

func (m *mockAlerts) RaiseAlert(_ context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raised = append(m.raised, *a)
	return nil
}

func (m *mockAlerts) ListAlerts(ctx context.Context, scope store.TenantScope, includeResolved bool, page models.Page) ([]models.Alert, bool, error) {
	return m.list(ctx, scope, includeResolved, page)
}

func (m *mockAlerts) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return m.getAlert(ctx, id)
}

func (m *mockAlerts) ResolveAlert(ctx context.Context, id string) (*models.Alert, error) {
	return m.resolve(ctx, id)
}

// mockSummaries counts aggregate loads.
type mockSummaries struct {
	mu         sync.Mutex
	costLoads  int
	complLoads int
	gotFrom    time.Time
	gotTo      time.Time
	compliance *models.ComplianceSummary
	costByCurr map[string]float64
}

func (m *mockSummaries) CostSummary(_ context.Context, tenantID string, from, to time.Time, _ int) (*models.CostSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costLoads++
	m.gotFrom, m.gotTo = from, to
	return &models.CostSummary{TenantID: tenantID, From: from, To: to, ByCurrency: m.costByCurr}, nil
}

func (m *mockSummaries) ComplianceSummary(_ context.Context, tenantID string) (*models.ComplianceSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.complLoads++
	cp := *m.compliance
	cp.TenantID = tenantID
	return &cp, nil
}

// recordedEvent is one call to mockEvents.Publish.
type recordedEvent struct {
	Type     string
	TenantID string
	Data     any
}

// mockEvents records published events.
type mockEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *mockEvents) Publish(eventType, tenantID string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{Type: eventType, TenantID: tenantID, Data: data})
}

func (m *mockEvents) all() []recordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedEvent(nil), m.events...)
}
