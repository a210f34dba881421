package models

// Role is the privilege level of an API caller.
type Role string

// Caller roles.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Principal is an authenticated API key together with its tenant grants.
// AllTenants is only set by an explicit wildcard grant row.
type Principal struct {
	KeyID      string   `json:"key_id"`
	Name       string   `json:"name"`
	Role       Role     `json:"role"`
	Tenants    []string `json:"tenants"`
	AllTenants bool     `json:"all_tenants"`
}
