package client

import (
	"net/url"
	"strconv"
	"time"
)

// Job types accepted by SyncService.Trigger.
const (
	JobCost       = "cost"
	JobCompliance = "compliance"
	JobResource   = "resource"
	JobIdentity   = "identity"
)

// Trigger outcomes.
const (
	OutcomeAccepted       = "accepted"
	OutcomeAlreadyRunning = "already_running"
)

// TriggerResponse reports, per tenant, whether a manual sync was accepted.
type TriggerResponse struct {
	Outcome string            `json:"outcome"`
	JobType string            `json:"job_type"`
	Tenants map[string]string `json:"tenants"`
}

// SyncRun is one execution of one job for one tenant.
type SyncRun struct {
	ID               string     `json:"id"`
	JobType          string     `json:"job_type"`
	TenantID         string     `json:"tenant_id"`
	Status           string     `json:"status"`
	Trigger          string     `json:"trigger"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	ErrorSummary     string     `json:"error_summary,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// JobHealth is the health of one job type across tenants.
type JobHealth struct {
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Running             int        `json:"running"`
	Status              string     `json:"status"`
}

// SyncHealth is the aggregate sync health.
type SyncHealth struct {
	LastSuccess         *time.Time           `json:"last_success,omitempty"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	Status              string               `json:"status"`
	Jobs                map[string]JobHealth `json:"jobs"`
}

// Anomaly is a flagged cost spike.
type Anomaly struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	ServiceName     string     `json:"service_name"`
	UsageDate       time.Time  `json:"usage_date"`
	ExpectedCost    float64    `json:"expected_cost"`
	ActualCost      float64    `json:"actual_cost"`
	VariancePercent float64    `json:"variance_percent"`
	Status          string     `json:"status"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Alert is an operator notification.
type Alert struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Source     string     `json:"source"`
	JobType    string     `json:"job_type,omitempty"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ServiceCost is one row of a cost summary.
type ServiceCost struct {
	ServiceName string  `json:"service_name"`
	Currency    string  `json:"currency"`
	Cost        float64 `json:"cost"`
}

// CostSummary is a tenant's spend over the rolling window.
type CostSummary struct {
	TenantID    string             `json:"tenant_id"`
	From        time.Time          `json:"from"`
	To          time.Time          `json:"to"`
	ByCurrency  map[string]float64 `json:"by_currency"`
	TopServices []ServiceCost      `json:"top_services"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ComplianceSummary is a tenant's latest policy state.
type ComplianceSummary struct {
	TenantID          string         `json:"tenant_id"`
	CompliancePercent float64        `json:"compliance_percent"`
	SecurityScore     *float64       `json:"security_score,omitempty"`
	BySeverity        map[string]int `json:"non_compliant_by_severity"`
	SyncWindow        *time.Time     `json:"sync_window,omitempty"`
	OldestSyncWindow  *time.Time     `json:"oldest_sync_window,omitempty"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         int64          `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status        string     `json:"status"`
	Version       string     `json:"version"`
	Database      string     `json:"database"`
	SchemaVersion int64      `json:"schema_version"`
	Sync          string     `json:"sync"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	Connections   *PoolStats `json:"connections,omitempty"`
}

// PoolStats is the server's database connection pool usage.
type PoolStats struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	Max      int32 `json:"max"`
}

// ReadinessResponse is returned by the readiness endpoint.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// BreakerStats describes one circuit breaker that is not cleanly closed.
type BreakerStats struct {
	TenantID string `json:"tenant_id"`
	Service  string `json:"service"`
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
}

// StatsResponse is returned by the stats endpoint.
type StatsResponse struct {
	ActiveTenants int                  `json:"active_tenants"`
	OpenAnomalies int                  `json:"open_anomalies"`
	OpenAlerts    int                  `json:"open_alerts"`
	RunningSyncs  int                  `json:"running_syncs"`
	Breakers      []BreakerStats       `json:"breakers"`
	NextRuns      map[string]time.Time `json:"next_runs"`
}

// ListOptions holds common pagination parameters.
type ListOptions struct {
	Limit  int
	Offset int
}

// AnomalyListOptions holds parameters for listing anomalies.
type AnomalyListOptions struct {
	TenantID string
	Status   string
	Since    *time.Time
	Limit    int
	Offset   int
}

// AuditQueryOptions filters an audit read. Zero fields are not sent.
type AuditQueryOptions struct {
	Action     string
	Actor      string
	EntityType string
	EntityID   string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

func (o *AuditQueryOptions) values() url.Values {
	v := url.Values{}
	if o == nil {
		return v
	}

	for key, val := range map[string]string{
		"action":      o.Action,
		"actor":       o.Actor,
		"entity_type": o.EntityType,
		"entity_id":   o.EntityID,
	} {
		if val != "" {
			v.Set(key, val)
		}
	}

	if o.Since != nil {
		v.Set("since", o.Since.UTC().Format(time.RFC3339))
	}
	if o.Until != nil {
		v.Set("until", o.Until.UTC().Format(time.RFC3339))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}

	return v
}

// listResponse wraps every paginated list response.
type listResponse[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}
