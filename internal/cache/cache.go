// Package cache holds expensive per-tenant read aggregations with a TTL and
// invalidates them per (tenant, domain) when a sync completes.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/persistorai/tenantwatch/internal/metrics"
)

// Key addresses one cached view.
type Key struct {
	TenantID string
	Domain   string
	View     string
}

type scope struct {
	tenantID string
	domain   string
}

// Cache is a TTL cache keyed by (tenant, domain, view).
//
// Each (tenant, domain) has a generation counter. Invalidate bumps it, and a
// load that started under an older generation is returned to its callers but
// never stored, so a read after Invalidate returns cannot observe data loaded
// before it.
type Cache struct {
	lru   *expirable.LRU[Key, any]
	group singleflight.Group

	mu   sync.Mutex
	gens map[scope]uint64
}

// New creates a Cache holding at most size entries for ttl each.
func New(size int, ttl time.Duration) *Cache {
	return &Cache{
		lru:  expirable.NewLRU[Key, any](size, nil, ttl),
		gens: make(map[scope]uint64),
	}
}

func (c *Cache) generation(s scope) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gens[s]
}

// GetOrLoad returns the cached value for key or calls load. Concurrent misses
// for one key and generation share a single load.
func (c *Cache) GetOrLoad(ctx context.Context, key Key, load func(context.Context) (any, error)) (any, error) {
	if v, ok := c.lru.Get(key); ok {
		metrics.CacheRequestsTotal.WithLabelValues(key.Domain, "hit").Inc()
		return v, nil
	}

	metrics.CacheRequestsTotal.WithLabelValues(key.Domain, "miss").Inc()

	s := scope{tenantID: key.TenantID, domain: key.Domain}
	gen := c.generation(s)
	flightKey := fmt.Sprintf("%s\x00%s\x00%s\x00%d", key.TenantID, key.Domain, key.View, gen)

	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gens[s] == gen {
			c.lru.Add(key, v)
		}
		c.mu.Unlock()

		return v, nil
	})

	return v, err
}

// Load is a typed wrapper around GetOrLoad.
func Load[T any](ctx context.Context, c *Cache, key Key, load func(context.Context) (T, error)) (T, error) {
	v, err := c.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}

	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: unexpected value type %T for %s/%s", v, key.Domain, key.View)
	}

	return out, nil
}

// Invalidate removes every view of (tenantID, domain). It returns only after
// the entries are gone.
func (c *Cache) Invalidate(tenantID, domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[scope{tenantID: tenantID, domain: domain}]++

	for _, k := range c.lru.Keys() {
		if k.TenantID == tenantID && k.Domain == domain {
			c.lru.Remove(k)
		}
	}
}

// InvalidateTenant removes every view of a tenant across all domains.
func (c *Cache) InvalidateTenant(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)

	for _, k := range c.lru.Keys() {
		if k.TenantID != tenantID {
			continue
		}

		if !seen[k.Domain] {
			c.gens[scope{tenantID: tenantID, domain: k.Domain}]++
			seen[k.Domain] = true
		}

		c.lru.Remove(k)
	}

	for s := range c.gens {
		if s.tenantID == tenantID && !seen[s.domain] {
			c.gens[s]++
		}
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int { return c.lru.Len() }
