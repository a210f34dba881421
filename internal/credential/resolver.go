package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/persistorai/tenantwatch/internal/metrics"
	"github.com/persistorai/tenantwatch/internal/models"
)

// TenantLookup loads tenant registry records.
type TenantLookup interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
}

type cacheKey struct {
	tenantID string
	service  string
}

type cachedCredential struct {
	cred      *Credential
	expiresAt time.Time
}

// Resolver tries each strategy in order and returns the first credential that
// passes validation. Results are cached per (tenant, service).
type Resolver struct {
	tenants    TenantLookup
	strategies []Strategy
	ttl        time.Duration
	now        func() time.Time
	validate   *validator.Validate
	log        *logrus.Logger

	cache sync.Map // cacheKey -> cachedCredential
	group singleflight.Group

	// gens is bumped per tenant by Invalidate. A resolve that started under
	// an older generation is returned to its callers but not cached.
	mu   sync.Mutex
	gens map[string]uint64
}

// NewResolver creates a Resolver. Strategies are tried in the given order.
func NewResolver(tenants TenantLookup, ttl time.Duration, log *logrus.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{
		tenants:    tenants,
		strategies: strategies,
		ttl:        ttl,
		now:        time.Now,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		log:        log,
		gens:       make(map[string]uint64),
	}
}

// SetClock replaces the time source. Used by tests.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Resolve returns a credential for the tenant and service. The returned value
// is a copy; callers may not mutate the cached entry.
func (r *Resolver) Resolve(ctx context.Context, tenantID, service string) (*Credential, error) {
	key := cacheKey{tenantID: tenantID, service: service}

	if cred, ok := r.cached(key); ok {
		metrics.CredentialResolutionsTotal.WithLabelValues("cache").Inc()
		return cred, nil
	}

	gen := r.generation(tenantID)
	flightKey := fmt.Sprintf("%s\x00%s\x00%d", tenantID, service, gen)

	val, err, _ := r.group.Do(flightKey, func() (any, error) {
		if cred, ok := r.cached(key); ok {
			return cred, nil
		}

		cred, err := r.resolve(ctx, tenantID, service)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.gens[tenantID] == gen {
			r.cache.Store(key, cachedCredential{cred: cred, expiresAt: r.now().Add(r.ttl)})
		}
		r.mu.Unlock()

		return cred, nil
	})
	if err != nil {
		metrics.CredentialResolutionsTotal.WithLabelValues("none").Inc()
		return nil, err
	}

	cred, ok := val.(*Credential)
	if !ok {
		return nil, fmt.Errorf("credential: unexpected singleflight result type %T", val)
	}

	out := *cred

	return &out, nil
}

func (r *Resolver) generation(tenantID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.gens[tenantID]
}

func (r *Resolver) cached(key cacheKey) (*Credential, bool) {
	v, ok := r.cache.Load(key)
	if !ok {
		return nil, false
	}

	entry := v.(cachedCredential) //nolint:forcetypeassert // only cachedCredential is stored.
	if !r.now().Before(entry.expiresAt) {
		r.cache.CompareAndDelete(key, v)
		return nil, false
	}

	out := *entry.cred

	return &out, true
}

func (r *Resolver) resolve(ctx context.Context, tenantID, service string) (*Credential, error) {
	tenant, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, &CredentialError{TenantID: tenantID, Causes: []error{fmt.Errorf("load tenant: %w", err)}}
	}

	credErr := &CredentialError{TenantID: tenantID}

	for _, s := range r.strategies {
		credErr.Tried = append(credErr.Tried, s.Name())

		cred, err := s.Lookup(ctx, tenant, service)
		if err != nil {
			credErr.Causes = append(credErr.Causes, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		if err := r.validate.Struct(cred); err != nil {
			credErr.Causes = append(credErr.Causes, fmt.Errorf("%s: invalid credential: %w", s.Name(), err))
			continue
		}

		cred.ResolvedAt = r.now()
		metrics.CredentialResolutionsTotal.WithLabelValues(string(cred.Source)).Inc()
		r.log.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"service":   service,
			"source":    cred.Source,
		}).Debug("credential resolved")

		return cred, nil
	}

	r.log.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"service":   service,
		"tried":     credErr.Tried,
	}).Warn("credential resolution failed")

	return nil, credErr
}

// Invalidate drops every cached credential for a tenant. Resolves already in
// flight finish but do not repopulate the cache.
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gens[tenantID]++

	r.cache.Range(func(k, _ any) bool {
		if k.(cacheKey).tenantID == tenantID { //nolint:forcetypeassert // only cacheKey is stored.
			r.cache.Delete(k)
		}
		return true
	})
}
