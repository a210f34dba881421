package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/persistorai/tenantwatch/internal/config"
)

// EnvStore reads secrets from environment variables. A secret named
// "6f1c...-client-id" is read from TW_SECRET_6F1C..._CLIENT_ID.
// Intended for dev/test; production uses the vault store.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore creates an EnvStore backed by the process environment.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

// GetSecret implements Store.
func (s *EnvStore) GetSecret(_ context.Context, name string) (config.Secret, error) {
	v, ok := s.lookup(EnvName(name))
	if !ok || v == "" {
		return "", ErrNotFound
	}

	return config.Secret(v), nil
}

// EnvName maps a secret name to its environment variable name.
func EnvName(name string) string {
	return "TW_SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name))
}
