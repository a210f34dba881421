package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/persistorai/tenantwatch/internal/models"
)

const (
	principalCacheTTL = 5 * time.Minute
	negativeCacheTTL  = 30 * time.Second
	maxCacheEntries   = 10000
)

// errCachedNotFound is returned for negative cache hits.
var errCachedNotFound = errors.New("api key not found (cached)")

// hashKey returns a hex-encoded SHA-256 hash of the API key so raw keys
// are never stored in memory.
func hashKey(apiKey string) string {
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:])
}

// CachedPrincipalLookup wraps a PrincipalLookup with bounded in-memory caches.
// Grant changes become visible within principalCacheTTL.
type CachedPrincipalLookup struct {
	inner    PrincipalLookup
	hits     *expirable.LRU[string, models.Principal]
	negative *expirable.LRU[string, struct{}]
	group    singleflight.Group
}

// NewCachedPrincipalLookup creates a caching wrapper around inner.
func NewCachedPrincipalLookup(inner PrincipalLookup) *CachedPrincipalLookup {
	return &CachedPrincipalLookup{
		inner:    inner,
		hits:     expirable.NewLRU[string, models.Principal](maxCacheEntries, nil, principalCacheTTL),
		negative: expirable.NewLRU[string, struct{}](maxCacheEntries, nil, negativeCacheTTL),
	}
}

// GetPrincipalByAPIKey returns a cached principal or delegates to the inner
// lookup. Failed lookups are cached briefly so bad keys cannot hammer the
// database.
func (c *CachedPrincipalLookup) GetPrincipalByAPIKey(ctx context.Context, apiKey string) (*models.Principal, error) {
	hk := hashKey(apiKey)

	if p, ok := c.hits.Get(hk); ok {
		return &p, nil
	}

	if c.negative.Contains(hk) {
		return nil, errCachedNotFound
	}

	v, err, _ := c.group.Do(hk, func() (any, error) {
		p, err := c.inner.GetPrincipalByAPIKey(ctx, apiKey)
		if err != nil {
			c.negative.Add(hk, struct{}{})
			return nil, err
		}

		c.hits.Add(hk, *p)

		return *p, nil
	})
	if err != nil {
		return nil, err
	}

	p := v.(models.Principal) //nolint:forcetypeassert // only Principal is returned above.

	return &p, nil
}
