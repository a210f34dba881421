package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation.
var (
	ErrMissingTenant   = errors.New("tenant_id is required")
	ErrInvalidTenantID = errors.New("tenant_id must be a UUID")
	ErrUnknownJobType  = errors.New("unknown job type")
	ErrMissingActor    = errors.New("actor is required")
	ErrInvalidStatus   = errors.New("invalid status")
)

// Sentinel errors for entity lookups.
var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrAnomalyNotFound = errors.New("anomaly not found")
	ErrAlertNotFound   = errors.New("alert not found")
	ErrRunNotFound     = errors.New("sync run not found")
)

// ErrTenantInactive is returned when a sync is requested for a deactivated tenant.
var ErrTenantInactive = errors.New("tenant is not active")

// ErrTenantAccessDenied is returned when a caller asks for a tenant outside its
// authorized set. It is always surfaced, never converted to an empty result.
var ErrTenantAccessDenied = errors.New("tenant access denied")

// ErrInsufficientRole is returned when a read-only caller attempts a mutation.
var ErrInsufficientRole = errors.New("role does not permit this operation")

// ErrAlreadyAcknowledged indicates an anomaly has left the open state.
var ErrAlreadyAcknowledged = errors.New("anomaly already acknowledged")

// ErrDuplicateKey indicates a unique constraint violation (maps to HTTP 409 Conflict).
var ErrDuplicateKey = errors.New("duplicate key")

// ErrFieldTooLong returns an error indicating a field exceeds its maximum length.
func ErrFieldTooLong(field string, maxLen int) error {
	return fmt.Errorf("%s exceeds maximum length of %d", field, maxLen)
}
