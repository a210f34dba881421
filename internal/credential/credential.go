// Package credential resolves upstream API credentials for a tenant through an
// ordered chain of sources and caches the result for a short TTL.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/persistorai/tenantwatch/internal/config"
)

// Source names where a credential came from.
type Source string

// Credential sources in resolution order.
const (
	SourceSecretStore  Source = "secret_store"
	SourceRegistration Source = "registration"
	SourceDelegated    Source = "delegated"
)

// Credential is resolved client-credentials material for one tenant and
// upstream service. It is only ever held in memory.
type Credential struct {
	TenantID     string        `validate:"required"`
	Service      string        `validate:"required"`
	DirectoryID  string        `validate:"required"`
	ClientID     string        `validate:"required,uuid"`
	ClientSecret config.Secret `validate:"required"`
	Source       Source
	ResolvedAt   time.Time
}

// errUnavailable marks a source that has nothing for this tenant. It is not a
// failure of the source itself.
var errUnavailable = errors.New("not available")

// CredentialError is returned when no source produced a valid credential.
// Callers must not retry it within the same run.
type CredentialError struct {
	TenantID string
	Tried    []Source
	Causes   []error
}

func (e *CredentialError) Error() string {
	tried := make([]string, len(e.Tried))
	for i, s := range e.Tried {
		tried[i] = string(s)
	}

	msg := fmt.Sprintf("no valid credential for tenant %s (tried: %s)", e.TenantID, strings.Join(tried, ", "))
	if len(e.Causes) > 0 {
		causes := make([]string, len(e.Causes))
		for i, c := range e.Causes {
			causes[i] = c.Error()
		}
		msg += ": " + strings.Join(causes, "; ")
	}

	return msg
}

// Unwrap exposes the per-source causes to errors.Is and errors.As.
func (e *CredentialError) Unwrap() []error { return e.Causes }

// IsCredentialError reports whether err wraps a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
