package models

import (
	"fmt"
	"time"
)

// JobType names one sync domain.
type JobType string

// Known job types.
const (
	JobCost       JobType = "cost"
	JobCompliance JobType = "compliance"
	JobResource   JobType = "resource"
	JobIdentity   JobType = "identity"
)

// AllJobTypes lists every job type in scheduling order.
var AllJobTypes = []JobType{JobCost, JobCompliance, JobResource, JobIdentity}

// ParseJobType validates s as a job type.
func ParseJobType(s string) (JobType, error) {
	for _, jt := range AllJobTypes {
		if string(jt) == s {
			return jt, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownJobType, s)
}

// RunStatus is the lifecycle state of a SyncJobRun.
type RunStatus string

// Run statuses. pending -> running -> completed | failed.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Trigger records what started a run.
type Trigger string

// Trigger kinds.
const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// SyncJobRun is one execution of one adapter for one tenant.
type SyncJobRun struct {
	ID               string     `json:"id"`
	JobType          JobType    `json:"job_type"`
	TenantID         string     `json:"tenant_id"`
	Status           RunStatus  `json:"status"`
	Trigger          Trigger    `json:"trigger"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	ErrorSummary     string     `json:"error_summary,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TenantKey implements the tenant-scoped contract used by authorization filters.
func (r SyncJobRun) TenantKey() string { return r.TenantID }

// SyncRunFilter narrows a run listing. Empty fields match everything.
type SyncRunFilter struct {
	JobType  JobType
	TenantID string
	Limit    int
}

// TriggerOutcome is the result of a sync trigger request.
type TriggerOutcome string

// Trigger outcomes.
const (
	TriggerAccepted       TriggerOutcome = "accepted"
	TriggerAlreadyRunning TriggerOutcome = "already_running"
)

// TriggerResult reports, per tenant, whether a trigger was accepted.
type TriggerResult struct {
	JobType JobType                   `json:"job_type"`
	Tenants map[string]TriggerOutcome `json:"tenants"`
}

// Outcome collapses a single-tenant result into one outcome.
// It is accepted if any tenant was accepted.
func (r TriggerResult) Outcome() TriggerOutcome {
	for _, o := range r.Tenants {
		if o == TriggerAccepted {
			return TriggerAccepted
		}
	}

	return TriggerAlreadyRunning
}

// HealthStatus summarizes sync health.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailing  HealthStatus = "failing"
	HealthUnknown  HealthStatus = "unknown"
)

// SyncHealth is the aggregate health reported to operators.
type SyncHealth struct {
	LastSuccess         *time.Time            `json:"last_success,omitempty"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	Status              HealthStatus          `json:"status"`
	Jobs                map[JobType]JobHealth `json:"jobs"`
}

// JobHealth is the health of one job type across tenants.
type JobHealth struct {
	LastSuccess         *time.Time   `json:"last_success,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Running             int          `json:"running"`
	Status              HealthStatus `json:"status"`
}
