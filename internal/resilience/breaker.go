// Package resilience guards upstream calls with per-tenant token buckets and
// circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/persistorai/tenantwatch/internal/metrics"
)

// State is the state of a circuit breaker.
type State int

// Circuit states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures every breaker in a registry.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// FailureWindow bounds the run of consecutive failures. A failure arriving
	// after the window has passed since the first one restarts the count.
	FailureWindow time.Duration
	// Cooldown is how long the circuit stays open before one probe is admitted.
	Cooldown time.Duration
	// Ignore reports errors that say nothing about upstream health
	// (cancellation, caller mistakes). Ignored errors neither count nor reset.
	Ignore func(error) bool
}

// DefaultBreakerConfig returns the defaults used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    10 * time.Minute,
		Cooldown:         60 * time.Second,
	}
}

// CircuitOpenError is returned without calling upstream while a circuit is open.
type CircuitOpenError struct {
	TenantID   string
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for tenant %s service %s (retry after %s)", e.TenantID, e.Service, e.RetryAfter.Round(time.Second))
}

// IsCircuitOpen reports whether err wraps a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// Breaker tracks failures for one (tenant, service) pair.
type Breaker struct {
	key Key
	cfg BreakerConfig
	now func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	firstFailureAt time.Time
	openedAt       time.Time
	probing        bool
}

// allow admits or rejects a call. In half-open only the caller that wins the
// probe slot is admitted; everyone else is rejected until the probe reports.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.Cooldown {
			return b.openError(b.cfg.Cooldown - elapsed)
		}

		b.transition(StateHalfOpen)
		b.probing = true

		return nil
	case StateHalfOpen:
		if b.probing {
			return b.openError(0)
		}

		b.probing = true

		return nil
	}

	return b.openError(0)
}

// check reports what allow would decide without claiming the probe slot or
// moving out of open.
func (b *Breaker) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if elapsed := b.now().Sub(b.openedAt); elapsed < b.cfg.Cooldown {
			return b.openError(b.cfg.Cooldown - elapsed)
		}
	case StateHalfOpen:
		if b.probing {
			return b.openError(0)
		}
	}

	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && b.cfg.Ignore != nil && b.cfg.Ignore(err) {
		// Release the probe slot so the next call can probe instead.
		b.probing = false
		return
	}

	if errors.Is(err, context.Canceled) {
		b.probing = false
		return
	}

	if err == nil {
		b.failures = 0
		b.probing = false
		if b.state != StateClosed {
			b.transition(StateClosed)
		}

		return
	}

	now := b.now()

	if b.state == StateHalfOpen {
		b.probing = false
		b.openedAt = now
		b.transition(StateOpen)

		return
	}

	if b.failures == 0 || now.Sub(b.firstFailureAt) > b.cfg.FailureWindow {
		b.failures = 0
		b.firstFailureAt = now
	}

	b.failures++

	if b.failures >= b.cfg.FailureThreshold {
		b.openedAt = now
		b.transition(StateOpen)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}

	b.state = to
	if to == StateClosed {
		b.failures = 0
	}

	metrics.BreakerTransitionsTotal.WithLabelValues(b.key.Service, to.String()).Inc()
}

func (b *Breaker) openError(retryAfter time.Duration) error {
	metrics.BreakerRejectionsTotal.WithLabelValues(b.key.Service).Inc()
	return &CircuitOpenError{TenantID: b.key.TenantID, Service: b.key.Service, RetryAfter: retryAfter}
}

// State returns the current state without admitting a call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Key identifies a breaker or bucket.
type Key struct {
	TenantID string
	Service  string
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	TenantID string `json:"tenant_id"`
	Service  string `json:"service"`
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
}

// Breakers holds one Breaker per (tenant, service). Calls on different keys
// never contend on a shared lock.
type Breakers struct {
	cfg      BreakerConfig
	now      func() time.Time
	breakers sync.Map // Key -> *Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}

	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}

	return &Breakers{cfg: cfg, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (r *Breakers) SetClock(now func() time.Time) { r.now = now }

// Get returns the breaker for a key, creating it closed.
func (r *Breakers) Get(tenantID, service string) *Breaker {
	key := Key{TenantID: tenantID, Service: service}
	if b, ok := r.breakers.Load(key); ok {
		return b.(*Breaker) //nolint:forcetypeassert // only *Breaker is stored.
	}

	b, _ := r.breakers.LoadOrStore(key, &Breaker{key: key, cfg: r.cfg, now: func() time.Time { return r.now() }})

	return b.(*Breaker) //nolint:forcetypeassert // only *Breaker is stored.
}

// Execute runs fn through the (tenant, service) breaker. While the circuit is
// open fn is not called and a *CircuitOpenError is returned.
func (r *Breakers) Execute(ctx context.Context, tenantID, service string, fn func(context.Context) error) error {
	b := r.Get(tenantID, service)
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		// The caller gave up; that says nothing about upstream health.
		b.record(context.Canceled)
		return err
	}

	b.record(err)

	return err
}

// Check returns a *CircuitOpenError when a call for the key would be rejected
// right now. It admits nothing; Execute still makes the final decision.
func (r *Breakers) Check(tenantID, service string) error {
	return r.Get(tenantID, service).check()
}

// Reset forgets every breaker for a tenant.
func (r *Breakers) Reset(tenantID string) {
	r.breakers.Range(func(k, _ any) bool {
		if k.(Key).TenantID == tenantID { //nolint:forcetypeassert // only Key is stored.
			r.breakers.Delete(k)
		}
		return true
	})
}

// Stats returns a snapshot of all non-closed breakers.
func (r *Breakers) Stats() []BreakerStats {
	var out []BreakerStats

	r.breakers.Range(func(_, v any) bool {
		b := v.(*Breaker) //nolint:forcetypeassert // only *Breaker is stored.
		b.mu.Lock()
		if b.state != StateClosed || b.failures > 0 {
			out = append(out, BreakerStats{
				TenantID: b.key.TenantID,
				Service:  b.key.Service,
				State:    b.state.String(),
				Failures: b.failures,
			})
		}
		b.mu.Unlock()

		return true
	})

	return out
}
