package models

import (
	"errors"
	"time"
)

// Audit actions recorded by operator-facing mutations.
const (
	AuditSyncTrigger        = "sync.trigger"
	AuditAlertResolve       = "alert.resolve"
	AuditAnomalyAcknowledge = "anomaly.acknowledge"
)

// Audit entity types.
const (
	AuditEntitySyncJob = "sync_job"
	AuditEntityAlert   = "alert"
	AuditEntityAnomaly = "anomaly"
)

// AuditEntry is one recorded operator action. TenantID is empty for actions
// taken across the whole fleet.
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

// Fleet reports whether the entry is not tied to a single tenant.
func (e AuditEntry) Fleet() bool { return e.TenantID == "" }

// ErrAuditWindow is returned when Since falls after Until.
var ErrAuditWindow = errors.New("since must not be after until")

// AuditQueryOpts filters audit reads. Zero values match everything.
type AuditQueryOpts struct {
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Validate rejects an inverted time window.
func (o AuditQueryOpts) Validate() error {
	if o.Since != nil && o.Until != nil && o.Since.After(*o.Until) {
		return ErrAuditWindow
	}

	return nil
}
