package models

import "time"

// SnapshotMeta is shared by every snapshot shape. SyncWindow is the UTC day the
// row belongs to; rows are upserted on (tenant, logical key, window).
type SnapshotMeta struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	CapturedAt time.Time `json:"captured_at"`
	SyncWindow time.Time `json:"sync_window"`
}

// TenantKey implements the tenant-scoped contract used by authorization filters.
func (m SnapshotMeta) TenantKey() string { return m.TenantID }

// CostSnapshot is one day of spend for a resource group and service.
type CostSnapshot struct {
	SnapshotMeta
	SubscriptionID string    `json:"subscription_id"`
	ResourceGroup  string    `json:"resource_group"`
	ServiceName    string    `json:"service_name"`
	UsageDate      time.Time `json:"usage_date"`
	Cost           float64   `json:"cost"`
	Currency       string    `json:"currency"`
}

// Severity tiers for policy findings.
type Severity string

// Severity values.
const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// ComplianceSnapshot is the state of one policy in one subscription.
type ComplianceSnapshot struct {
	SnapshotMeta
	SubscriptionID    string   `json:"subscription_id"`
	PolicyName        string   `json:"policy_name"`
	Category          string   `json:"category"`
	Compliant         int      `json:"compliant"`
	NonCompliant      int      `json:"non_compliant"`
	Exempt            int      `json:"exempt"`
	CompliancePercent float64  `json:"compliance_percent"`
	SecurityScore     *float64 `json:"security_score,omitempty"`
	Severity          Severity `json:"severity"`
}

// ResourceSnapshot is one inventoried resource.
type ResourceSnapshot struct {
	SnapshotMeta
	ResourceID        string            `json:"resource_id"`
	SubscriptionID    string            `json:"subscription_id"`
	ResourceGroup     string            `json:"resource_group"`
	Type              string            `json:"type"`
	Name              string            `json:"name"`
	Location          string            `json:"location"`
	ProvisioningState string            `json:"provisioning_state"`
	Tags              map[string]string `json:"tags,omitempty"`
	IsOrphaned        bool              `json:"is_orphaned"`
}

// IdentityKind distinguishes directory principals.
type IdentityKind string

// Identity kinds.
const (
	IdentityUser             IdentityKind = "user"
	IdentityGuest            IdentityKind = "guest"
	IdentityServicePrincipal IdentityKind = "service_principal"
)

// MFAState is the MFA registration state of a principal.
type MFAState string

// MFA states. Unknown is recorded when the reporting permission is missing.
const (
	MFARegistered    MFAState = "registered"
	MFANotRegistered MFAState = "not_registered"
	MFAUnknown       MFAState = "unknown"
)

// IdentitySnapshot is the posture of one directory principal.
type IdentitySnapshot struct {
	SnapshotMeta
	ObjectID     string       `json:"object_id"`
	Kind         IdentityKind `json:"kind"`
	DisplayName  string       `json:"display_name"`
	UPN          string       `json:"upn,omitempty"`
	Roles        []string     `json:"roles,omitempty"`
	IsPrivileged bool         `json:"is_privileged"`
	IsStale      bool         `json:"is_stale"`
	LastSignIn   *time.Time   `json:"last_sign_in,omitempty"`
	MFAState     MFAState     `json:"mfa_state"`
}

// DailyCost is a per-service daily total used by anomaly detection.
type DailyCost struct {
	SnapshotID  int64     `json:"snapshot_id"`
	ServiceName string    `json:"service_name"`
	UsageDate   time.Time `json:"usage_date"`
	Currency    string    `json:"currency"`
	Cost        float64   `json:"cost"`
}

// CostSummary aggregates a tenant's spend over the rolling window.
type CostSummary struct {
	TenantID    string             `json:"tenant_id"`
	From        time.Time          `json:"from"`
	To          time.Time          `json:"to"`
	ByCurrency  map[string]float64 `json:"by_currency"`
	TopServices []ServiceCost      `json:"top_services"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ServiceCost is one row of a cost summary.
type ServiceCost struct {
	ServiceName string  `json:"service_name"`
	Currency    string  `json:"currency"`
	Cost        float64 `json:"cost"`
}

// ComplianceSummary aggregates a tenant's latest policy state.
type ComplianceSummary struct {
	TenantID          string           `json:"tenant_id"`
	CompliancePercent float64          `json:"compliance_percent"`
	SecurityScore     *float64         `json:"security_score,omitempty"`
	BySeverity        map[Severity]int `json:"non_compliant_by_severity"`
	SyncWindow        *time.Time       `json:"sync_window,omitempty"`
	OldestSyncWindow  *time.Time       `json:"oldest_sync_window,omitempty"`
	GeneratedAt       time.Time        `json:"generated_at"`
}
