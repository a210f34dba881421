package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/persistorai/tenantwatch/internal/config"
)

// namePattern restricts secret names to prevent path traversal into other mounts.
var namePattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z_-]{0,127}$`)

// VaultStore reads secrets from a HashiCorp Vault KV v2 mount. Each secret lives
// at <mount>/data/tenantwatch/<name> with its value in the "value" field.
// Results are not cached here; callers own their TTL.
type VaultStore struct {
	addr   string
	mount  string
	token  config.Secret
	client *http.Client
	group  singleflight.Group
}

// NewVaultStore creates a VaultStore for the given address, KV mount and token.
func NewVaultStore(addr, mount, token string) *VaultStore {
	return &VaultStore{
		addr:  addr,
		mount: mount,
		token: config.Secret(token),
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}
}

// GetSecret implements Store. Concurrent lookups of one name share a request.
func (s *VaultStore) GetSecret(ctx context.Context, name string) (config.Secret, error) {
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("secrets/vault: invalid secret name %q", name)
	}

	val, err, _ := s.group.Do(name, func() (any, error) {
		return s.fetch(ctx, name)
	})
	if err != nil {
		return "", err
	}

	secret, ok := val.(config.Secret)
	if !ok {
		return "", fmt.Errorf("secrets/vault: unexpected singleflight result type %T", val)
	}

	return secret, nil
}

func (s *VaultStore) fetch(ctx context.Context, name string) (config.Secret, error) {
	reqURL := fmt.Sprintf("%s/v1/%s/data/tenantwatch/%s", s.addr, url.PathEscape(s.mount), url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("secrets/vault: create request: %w", err)
	}

	req.Header.Set("X-Vault-Token", s.token.Value())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("secrets/vault: request failed: %w", err)
	}
	defer resp.Body.Close()

	// Limit all body reads to 1 MB to prevent memory exhaustion.
	limitedBody := io.LimitReader(resp.Body, 1<<20)

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, limitedBody)
		return "", ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(limitedBody)
		if readErr != nil {
			return "", fmt.Errorf("secrets/vault: unexpected status %d (failed to read body: %w)", resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("secrets/vault: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}

	if err := json.NewDecoder(limitedBody).Decode(&result); err != nil {
		return "", fmt.Errorf("secrets/vault: decode response: %w", err)
	}

	v := result.Data.Data["value"]
	if v == "" {
		return "", ErrNotFound
	}

	return config.Secret(v), nil
}
