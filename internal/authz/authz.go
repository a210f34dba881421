// Package authz resolves which tenants a caller may see and filters every
// read through that set. It fails closed.
package authz

import (
	"context"
	"sort"

	"github.com/persistorai/tenantwatch/internal/models"
)

// TenantScoped is implemented by every row type that belongs to a tenant.
type TenantScoped interface {
	TenantKey() string
}

// TenantSet is the set of tenants a caller may read. The zero value grants
// nothing. All is only set from an explicit wildcard grant.
type TenantSet struct {
	All     bool
	tenants map[string]struct{}
}

// NewTenantSet builds a set from explicit tenant ids.
func NewTenantSet(ids ...string) TenantSet {
	s := TenantSet{tenants: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id != "" {
			s.tenants[id] = struct{}{}
		}
	}

	return s
}

// Wildcard returns the "all tenants" set. Only call this for an explicit grant.
func Wildcard() TenantSet { return TenantSet{All: true} }

// Contains reports whether id is in the set.
func (s TenantSet) Contains(id string) bool {
	if s.All {
		return true
	}

	_, ok := s.tenants[id]

	return ok
}

// IDs returns the explicit tenant ids in sorted order. It is empty for a
// wildcard set.
func (s TenantSet) IDs() []string {
	out := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		out = append(out, id)
	}
	sort.Strings(out)

	return out
}

// Empty reports whether the set grants nothing.
func (s TenantSet) Empty() bool { return !s.All && len(s.tenants) == 0 }

// Caller is an authenticated principal.
type Caller struct {
	ID      string
	Name    string
	Role    models.Role
	tenants TenantSet
}

// FromPrincipal builds a Caller from a stored API key and its grants. A
// wildcard is honored only for admin keys that carry an explicit all-tenants
// grant; anything else falls back to the explicit list.
func FromPrincipal(p models.Principal) Caller {
	set := NewTenantSet(p.Tenants...)
	if p.AllTenants && p.Role == models.RoleAdmin {
		set = Wildcard()
	}

	return Caller{ID: p.KeyID, Name: p.Name, Role: p.Role, tenants: set}
}

// NewCaller builds a Caller with an explicit tenant set.
func NewCaller(id string, role models.Role, tenants TenantSet) Caller {
	return Caller{ID: id, Name: id, Role: role, tenants: tenants}
}

// AuthorizedTenants returns the caller's tenant set.
func AuthorizedTenants(c Caller) TenantSet { return c.tenants }

// ValidateAccess returns models.ErrTenantAccessDenied unless tenantID is in
// the caller's set. A caller with no tenants is always denied.
func ValidateAccess(tenantID string, c Caller) error {
	if tenantID == "" || !c.tenants.Contains(tenantID) {
		return models.ErrTenantAccessDenied
	}

	return nil
}

// Filter returns the items whose tenant is in the caller's set, preserving order.
func Filter[T TenantScoped](items []T, c Caller) []T {
	if c.tenants.All {
		return items
	}

	out := make([]T, 0, len(items))
	for _, it := range items {
		if c.tenants.Contains(it.TenantKey()) {
			out = append(out, it)
		}
	}

	return out
}

// CanOperate reports whether the caller may trigger syncs and acknowledge
// findings, as opposed to only reading them.
func CanOperate(c Caller) bool {
	return c.Role == models.RoleOperator || c.Role == models.RoleAdmin
}

type ctxKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// CallerFrom returns the caller stored in ctx. A missing caller is the zero
// Caller, which is denied everything.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(ctxKey{}).(Caller)
	return c
}
