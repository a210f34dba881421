// Package secrets provides the secret-store contract used for tenant credentials
// and the AES-256-GCM sealer for registration secrets kept in the database.
package secrets

import (
	"context"
	"errors"

	"github.com/persistorai/tenantwatch/internal/config"
)

// ErrNotFound is returned when the store holds no secret under a name.
var ErrNotFound = errors.New("secret not found")

// Store looks up secrets by name.
type Store interface {
	// GetSecret returns the secret value or ErrNotFound.
	GetSecret(ctx context.Context, name string) (config.Secret, error)
}
