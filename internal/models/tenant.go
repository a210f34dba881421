// Package models defines the data types shared by the sync core, storage and API.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthMode selects how a tenant's upstream credential is obtained.
type AuthMode string

// Supported auth modes.
const (
	AuthModeApp       AuthMode = "app"
	AuthModeDelegated AuthMode = "delegated"
)

// Tenant is one external directory whose telemetry is collected.
type Tenant struct {
	ID                 string    `json:"id"`
	DirectoryID        string    `json:"directory_id"`
	DisplayName        string    `json:"display_name"`
	IsActive           bool      `json:"is_active"`
	AuthMode           AuthMode  `json:"auth_mode"`
	ClientID           string    `json:"client_id,omitempty"`
	ClientSecretSealed []byte    `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TenantKey implements the tenant-scoped contract used by authorization filters.
func (t Tenant) TenantKey() string { return t.ID }

// ValidateTenantID checks that id is a well-formed tenant identifier.
func ValidateTenantID(id string) error {
	if id == "" {
		return ErrMissingTenant
	}

	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidTenantID
	}

	return nil
}

// FleetCounts are fleet-wide totals reported by the stats endpoint.
type FleetCounts struct {
	ActiveTenants int `json:"active_tenants"`
	OpenAnomalies int `json:"open_anomalies"`
	OpenAlerts    int `json:"open_alerts"`
	RunningSyncs  int `json:"running_syncs"`
}
