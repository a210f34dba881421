package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/tenantwatch/internal/models"
)

// ErrInvalidAPIKey is returned for unknown or revoked keys.
var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKeyStore resolves API keys into principals with their tenant grants.
type APIKeyStore struct {
	Base
}

// NewAPIKeyStore creates an APIKeyStore.
func NewAPIKeyStore(base Base) *APIKeyStore {
	return &APIKeyStore{Base: base}
}

// HashAPIKey returns the stored form of an API key.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// GetPrincipalByAPIKey looks up a key by hash and loads its grants. A wildcard
// grant row on a non-admin key is ignored.
func (s *APIKeyStore) GetPrincipalByAPIKey(ctx context.Context, apiKey string) (*models.Principal, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var p models.Principal

	err := s.Pool.QueryRow(ctx,
		"SELECT id, name, role FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL",
		HashAPIKey(apiKey),
	).Scan(&p.KeyID, &p.Name, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}

		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	rows, err := s.Pool.Query(ctx,
		"SELECT tenant_id::text, all_tenants FROM api_key_tenants WHERE api_key_id = $1", p.KeyID)
	if err != nil {
		return nil, fmt.Errorf("loading api key grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tenantID *string
			all      bool
		)

		if err := rows.Scan(&tenantID, &all); err != nil {
			return nil, fmt.Errorf("scanning api key grant: %w", err)
		}

		switch {
		case all && p.Role == models.RoleAdmin:
			p.AllTenants = true
		case all:
			s.Log.WithField("key_id", p.KeyID).Warn("ignoring wildcard grant on non-admin api key")
		case tenantID != nil:
			p.Tenants = append(p.Tenants, *tenantID)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading api key grants: %w", err)
	}

	return &p, nil
}
