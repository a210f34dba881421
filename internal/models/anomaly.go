package models

import "time"

// AnomalyStatus is the acknowledgment state of an anomaly. acknowledged is terminal.
type AnomalyStatus string

// Anomaly statuses.
const (
	AnomalyOpen         AnomalyStatus = "open"
	AnomalyAcknowledged AnomalyStatus = "acknowledged"
)

// Anomaly is a flagged cost spike for one tenant, service and day.
type Anomaly struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	SnapshotID      int64         `json:"snapshot_id"`
	ServiceName     string        `json:"service_name"`
	UsageDate       time.Time     `json:"usage_date"`
	ExpectedCost    float64       `json:"expected_cost"`
	ActualCost      float64       `json:"actual_cost"`
	VariancePercent float64       `json:"variance_percent"`
	Status          AnomalyStatus `json:"status"`
	AcknowledgedBy  string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// TenantKey implements the tenant-scoped contract used by authorization filters.
func (a Anomaly) TenantKey() string { return a.TenantID }

// AnomalyFilter narrows an anomaly listing. Empty fields match everything.
type AnomalyFilter struct {
	TenantID string
	Status   AnomalyStatus
	Since    *time.Time
}

// Validate checks the filter values.
func (f AnomalyFilter) Validate() error {
	if f.TenantID != "" {
		if err := ValidateTenantID(f.TenantID); err != nil {
			return err
		}
	}

	switch f.Status {
	case "", AnomalyOpen, AnomalyAcknowledged:
		return nil
	default:
		return ErrInvalidStatus
	}
}

// Page is offset pagination shared by list endpoints.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps limit and offset into sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}

	if p.Limit > 500 {
		p.Limit = 500
	}

	if p.Offset < 0 {
		p.Offset = 0
	}

	return p
}
