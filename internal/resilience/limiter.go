package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/persistorai/tenantwatch/internal/metrics"
)

// LimiterConfig sizes the per-tenant and global token buckets.
type LimiterConfig struct {
	TenantRate  float64
	TenantBurst int
	GlobalRate  float64
	GlobalBurst int
}

type tenantBucket struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// Limiter hands out tokens per (tenant, service) and, on top of that, from
// one global bucket per service shared by all tenants.
type Limiter struct {
	cfg LimiterConfig

	mu      sync.Mutex
	tenants map[Key]*tenantBucket
	global  map[string]*rate.Limiter
}

// NewLimiter creates a Limiter. It starts a background goroutine that evicts
// idle tenant buckets, which stops when ctx is cancelled.
func NewLimiter(ctx context.Context, cfg LimiterConfig) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		tenants: make(map[Key]*tenantBucket),
		global:  make(map[string]*rate.Limiter),
	}
	go l.startCleanup(ctx)

	return l
}

// Acquire blocks until both the tenant bucket and the service's global bucket
// yield a token, or ctx is done. There is no timeout beyond ctx.
func (l *Limiter) Acquire(ctx context.Context, tenantID, service string) error {
	tenant, global := l.buckets(tenantID, service)
	start := time.Now()

	if err := tenant.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter (tenant %s, %s): %w", tenantID, service, err)
	}

	if err := global.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter (global, %s): %w", service, err)
	}

	metrics.LimiterWaitSeconds.WithLabelValues(service).Observe(time.Since(start).Seconds())

	return nil
}

// buckets returns the limiters for a key. The map lock is held only for the
// lookup; waiting happens outside it.
func (l *Limiter) buckets(tenantID, service string) (*rate.Limiter, *rate.Limiter) {
	key := Key{TenantID: tenantID, Service: service}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.tenants[key]
	if !ok {
		b = &tenantBucket{lim: rate.NewLimiter(rate.Limit(l.cfg.TenantRate), l.cfg.TenantBurst)}
		l.tenants[key] = b
	}
	b.lastUsed = time.Now()

	g, ok := l.global[service]
	if !ok {
		g = rate.NewLimiter(rate.Limit(l.cfg.GlobalRate), l.cfg.GlobalBurst)
		l.global[service] = g
	}

	return b.lim, g
}

// startCleanup periodically evicts tenant buckets that have been idle long
// enough to have refilled completely.
func (l *Limiter) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	const maxAge = 30 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for k, b := range l.tenants {
				if now.Sub(b.lastUsed) > maxAge {
					delete(l.tenants, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Len returns the number of tracked tenant buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.tenants)
}
