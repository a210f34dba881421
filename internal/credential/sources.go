package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/persistorai/tenantwatch/internal/config"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/secrets"
)

// Strategy is one link in the resolution chain.
type Strategy interface {
	Name() Source
	// Lookup returns a candidate credential. A candidate may still be rejected
	// by validation, in which case the next strategy is tried.
	Lookup(ctx context.Context, tenant *models.Tenant, service string) (*Credential, error)
}

// SecretStoreStrategy reads {tenantID}-client-id and {tenantID}-client-secret
// from the secret store.
type SecretStoreStrategy struct {
	Store secrets.Store
}

// Name implements Strategy.
func (s SecretStoreStrategy) Name() Source { return SourceSecretStore }

// Lookup implements Strategy.
func (s SecretStoreStrategy) Lookup(ctx context.Context, tenant *models.Tenant, service string) (*Credential, error) {
	id, err := s.Store.GetSecret(ctx, tenant.ID+"-client-id")
	if err != nil {
		return nil, storeErr("client-id", err)
	}

	secret, err := s.Store.GetSecret(ctx, tenant.ID+"-client-secret")
	if err != nil {
		return nil, storeErr("client-secret", err)
	}

	return &Credential{
		TenantID:     tenant.ID,
		Service:      service,
		DirectoryID:  tenant.DirectoryID,
		ClientID:     id.Value(),
		ClientSecret: secret,
		Source:       SourceSecretStore,
	}, nil
}

func storeErr(field string, err error) error {
	if errors.Is(err, secrets.ErrNotFound) {
		return fmt.Errorf("%s: %w", field, errUnavailable)
	}

	return fmt.Errorf("%s: %w", field, err)
}

// Unsealer opens registration secrets stored on the tenant row.
type Unsealer interface {
	Open(tenantID string, sealed []byte) ([]byte, error)
}

// RegistrationStrategy uses the tenant's own app registration fields.
type RegistrationStrategy struct {
	Sealer Unsealer
}

// Name implements Strategy.
func (s RegistrationStrategy) Name() Source { return SourceRegistration }

// Lookup implements Strategy.
func (s RegistrationStrategy) Lookup(_ context.Context, tenant *models.Tenant, service string) (*Credential, error) {
	if tenant.ClientID == "" || len(tenant.ClientSecretSealed) == 0 {
		return nil, errUnavailable
	}

	secret, err := s.Sealer.Open(tenant.ID, tenant.ClientSecretSealed)
	if err != nil {
		return nil, fmt.Errorf("unseal registration secret: %w", err)
	}

	return &Credential{
		TenantID:     tenant.ID,
		Service:      service,
		DirectoryID:  tenant.DirectoryID,
		ClientID:     tenant.ClientID,
		ClientSecret: config.Secret(secret),
		Source:       SourceRegistration,
	}, nil
}

// DelegatedStrategy uses one shared partner credential against the tenant's
// directory. It only applies to tenants configured for delegated access.
type DelegatedStrategy struct {
	ClientID     string
	ClientSecret config.Secret
}

// Name implements Strategy.
func (s DelegatedStrategy) Name() Source { return SourceDelegated }

// Lookup implements Strategy.
func (s DelegatedStrategy) Lookup(_ context.Context, tenant *models.Tenant, service string) (*Credential, error) {
	if tenant.AuthMode != models.AuthModeDelegated || s.ClientID == "" {
		return nil, errUnavailable
	}

	return &Credential{
		TenantID:     tenant.ID,
		Service:      service,
		DirectoryID:  tenant.DirectoryID,
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Source:       SourceDelegated,
	}, nil
}
