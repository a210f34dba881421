package models

import "time"

// AlertSource identifies what raised an alert.
type AlertSource string

// Alert sources.
const (
	AlertSyncFailure AlertSource = "sync_failure"
	AlertAnomaly     AlertSource = "anomaly"
)

// Alert is an operator notification derived from repeated run failures or anomalies.
type Alert struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenant_id"`
	Source     AlertSource `json:"source"`
	JobType    JobType     `json:"job_type,omitempty"`
	Severity   Severity    `json:"severity"`
	Message    string      `json:"message"`
	Resolved   bool        `json:"resolved"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TenantKey implements the tenant-scoped contract used by authorization filters.
func (a Alert) TenantKey() string { return a.TenantID }
