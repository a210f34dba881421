package syncer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

// PrivilegedRoles are directory role display names that make a principal
// privileged. Comparison is case-insensitive.
var PrivilegedRoles = []string{
	"Global Administrator",
	"Privileged Role Administrator",
	"Privileged Authentication Administrator",
	"Security Administrator",
	"User Administrator",
	"Exchange Administrator",
	"SharePoint Administrator",
	"Application Administrator",
	"Cloud Application Administrator",
	"Authentication Administrator",
	"Conditional Access Administrator",
	"Helpdesk Administrator",
	"Billing Administrator",
	"Intune Administrator",
	"Hybrid Identity Administrator",
	"Groups Administrator",
	"Directory Writers",
	"Azure AD Joined Device Local Administrator",
}

var privilegedRoleSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(PrivilegedRoles))
	for _, r := range PrivilegedRoles {
		m[strings.ToLower(r)] = struct{}{}
	}
	return m
}()

// IsPrivilegedRole reports whether a role display name is privileged.
func IsPrivilegedRole(name string) bool {
	_, ok := privilegedRoleSet[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// IsStale reports whether a user last signed in more than staleAfter before
// now. Principals that never signed in are stale.
func IsStale(lastSignIn *time.Time, now time.Time, staleAfter time.Duration) bool {
	if lastSignIn == nil {
		return true
	}

	return now.Sub(*lastSignIn) > staleAfter
}

// IdentityAdapter syncs directory principals and their posture.
type IdentityAdapter struct {
	deps       Deps
	window     time.Duration
	staleAfter time.Duration
}

// NewIdentityAdapter creates an IdentityAdapter. staleDays <= 0 means 90.
func NewIdentityAdapter(deps Deps, interval time.Duration, staleDays int) *IdentityAdapter {
	if staleDays <= 0 {
		staleDays = 90
	}

	return &IdentityAdapter{
		deps:       deps,
		window:     interval,
		staleAfter: time.Duration(staleDays) * 24 * time.Hour,
	}
}

// JobType implements Adapter.
func (a *IdentityAdapter) JobType() models.JobType { return models.JobIdentity }

type directoryMember struct {
	ID string `json:"id"`
}

type directoryRole struct {
	DisplayName string            `json:"displayName"`
	Members     []directoryMember `json:"members"`
}

type directoryRolePage struct {
	Value    []directoryRole `json:"value"`
	NextLink string          `json:"@odata.nextLink"`
}

type registrationDetail struct {
	ID              string `json:"id"`
	IsMfaRegistered bool   `json:"isMfaRegistered"`
}

type registrationPage struct {
	Value    []registrationDetail `json:"value"`
	NextLink string               `json:"@odata.nextLink"`
}

type graphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	UserType          string `json:"userType"`
	SignInActivity    *struct {
		LastSignInDateTime *time.Time `json:"lastSignInDateTime"`
	} `json:"signInActivity"`
}

type userPage struct {
	Value    []graphUser `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type servicePrincipal struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AppID       string `json:"appId"`
}

type servicePrincipalPage struct {
	Value    []servicePrincipal `json:"value"`
	NextLink string             `json:"@odata.nextLink"`
}

// Run implements Adapter. Role membership is loaded first because it decides
// privilege for every principal; failing to load it fails the run.
func (a *IdentityAdapter) Run(ctx context.Context, tenantID string) SyncResult {
	var res SyncResult

	service := string(models.JobIdentity)

	cred, err := a.deps.Credentials.Resolve(ctx, tenantID, service)
	if err != nil {
		res.Fatal = err
		return res
	}

	now := a.deps.now()
	window := syncWindow(now, a.window)

	roles, err := a.loadRoles(ctx, cred)
	if err != nil {
		res.Fatal = err
		return res
	}

	mfa, err := a.loadMFA(ctx, cred, tenantID)
	if err != nil {
		res.Fatal = err
		return res
	}

	meta := models.SnapshotMeta{TenantID: tenantID, CapturedAt: now, SyncWindow: window}

	users := upstream.Request{
		Service: service,
		Scope:   a.deps.Endpoints.graphScope(),
		Method:  http.MethodGet,
		URL: a.deps.Endpoints.Graph +
			"/v1.0/users?$select=id,displayName,userPrincipalName,userType,signInActivity&$top=999",
	}

	_, err = paginate(ctx, a.deps, cred, "users", users,
		func(p *userPage) string { return p.NextLink },
		func(ctx context.Context, p *userPage) (int, error) {
			rows := make([]models.IdentitySnapshot, 0, len(p.Value))
			for _, u := range p.Value {
				rows = append(rows, a.mapUser(meta, u, roles, mfa, now))
			}
			return a.upsert(ctx, tenantID, rows)
		}, &res)
	if err != nil {
		res.Fatal = err
		return res
	}

	sps := upstream.Request{
		Service: service,
		Scope:   a.deps.Endpoints.graphScope(),
		Method:  http.MethodGet,
		URL:     a.deps.Endpoints.Graph + "/v1.0/servicePrincipals?$select=id,displayName,appId&$top=999",
	}

	_, err = paginate(ctx, a.deps, cred, "servicePrincipals", sps,
		func(p *servicePrincipalPage) string { return p.NextLink },
		func(ctx context.Context, p *servicePrincipalPage) (int, error) {
			rows := make([]models.IdentitySnapshot, 0, len(p.Value))
			for _, sp := range p.Value {
				rows = append(rows, a.mapServicePrincipal(meta, sp, roles))
			}
			return a.upsert(ctx, tenantID, rows)
		}, &res)
	if err != nil {
		res.Fatal = err
	}

	return res
}

func (a *IdentityAdapter) upsert(ctx context.Context, tenantID string, rows []models.IdentitySnapshot) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	return a.deps.Store.UpsertIdentities(ctx, tenantID, rows)
}

// loadRoles maps principal object id to the sorted role names it holds.
func (a *IdentityAdapter) loadRoles(ctx context.Context, cred *credential.Credential) (map[string][]string, error) {
	roles := make(map[string][]string)

	var sub SyncResult

	complete, err := paginate(ctx, a.deps, cred, "directoryRoles", upstream.Request{
		Service: string(models.JobIdentity),
		Scope:   a.deps.Endpoints.graphScope(),
		Method:  http.MethodGet,
		URL:     a.deps.Endpoints.Graph + "/v1.0/directoryRoles?$expand=members",
	},
		func(p *directoryRolePage) string { return p.NextLink },
		func(_ context.Context, p *directoryRolePage) (int, error) {
			for _, r := range p.Value {
				for _, m := range r.Members {
					roles[m.ID] = append(roles[m.ID], r.DisplayName)
				}
			}
			return 0, nil
		}, &sub)
	if err != nil {
		return nil, err
	}

	if !complete {
		return nil, fmt.Errorf("loading directory roles: %w", sub.Err())
	}

	for id := range roles {
		sort.Strings(roles[id])
	}

	return roles, nil
}

// loadMFA returns MFA registration by object id, or nil when the reporting
// permission is missing. A nil map marks every principal unknown.
func (a *IdentityAdapter) loadMFA(ctx context.Context, cred *credential.Credential, tenantID string) (map[string]bool, error) {
	mfa := make(map[string]bool)

	var sub SyncResult

	complete, err := paginate(ctx, a.deps, cred, "userRegistrationDetails", upstream.Request{
		Service: string(models.JobIdentity),
		Scope:   a.deps.Endpoints.graphScope(),
		Method:  http.MethodGet,
		URL:     a.deps.Endpoints.Graph + "/v1.0/reports/authenticationMethods/userRegistrationDetails",
	},
		func(p *registrationPage) string { return p.NextLink },
		func(_ context.Context, p *registrationPage) (int, error) {
			for _, d := range p.Value {
				mfa[d.ID] = d.IsMfaRegistered
			}
			return 0, nil
		}, &sub)
	if err != nil {
		return nil, err
	}

	if !complete {
		for _, pe := range sub.Errors {
			if upstream.IsForbidden(pe.Err) {
				if a.deps.Log != nil {
					a.deps.Log.WithField("tenant_id", tenantID).Warn("MFA reporting permission missing, recording MFA state as unknown")
				}
				return nil, nil
			}
		}

		// Any other failure also leaves MFA unknown rather than guessing
		// from a partial report.
		if a.deps.Log != nil {
			a.deps.Log.WithError(sub.Err()).WithField("tenant_id", tenantID).Warn("MFA report incomplete")
		}

		return nil, nil
	}

	return mfa, nil
}

func mfaState(mfa map[string]bool, id string) models.MFAState {
	if mfa == nil {
		return models.MFAUnknown
	}

	registered, ok := mfa[id]

	switch {
	case !ok:
		return models.MFAUnknown
	case registered:
		return models.MFARegistered
	default:
		return models.MFANotRegistered
	}
}

func hasPrivilegedRole(roles []string) bool {
	for _, r := range roles {
		if IsPrivilegedRole(r) {
			return true
		}
	}

	return false
}

func (a *IdentityAdapter) mapUser(meta models.SnapshotMeta, u graphUser, roles map[string][]string, mfa map[string]bool, now time.Time) models.IdentitySnapshot {
	kind := models.IdentityUser
	if strings.EqualFold(u.UserType, "Guest") {
		kind = models.IdentityGuest
	}

	var last *time.Time
	if u.SignInActivity != nil && u.SignInActivity.LastSignInDateTime != nil {
		t := u.SignInActivity.LastSignInDateTime.UTC()
		last = &t
	}

	return models.IdentitySnapshot{
		SnapshotMeta: meta,
		ObjectID:     u.ID,
		Kind:         kind,
		DisplayName:  u.DisplayName,
		UPN:          u.UserPrincipalName,
		Roles:        roles[u.ID],
		IsPrivileged: hasPrivilegedRole(roles[u.ID]),
		IsStale:      IsStale(last, now, a.staleAfter),
		LastSignIn:   last,
		MFAState:     mfaState(mfa, u.ID),
	}
}

// mapServicePrincipal never marks a service principal stale: sign-in
// activity is only reported for users.
func (a *IdentityAdapter) mapServicePrincipal(meta models.SnapshotMeta, sp servicePrincipal, roles map[string][]string) models.IdentitySnapshot {
	return models.IdentitySnapshot{
		SnapshotMeta: meta,
		ObjectID:     sp.ID,
		Kind:         models.IdentityServicePrincipal,
		DisplayName:  sp.DisplayName,
		Roles:        roles[sp.ID],
		IsPrivileged: hasPrivilegedRole(roles[sp.ID]),
		MFAState:     models.MFAUnknown,
	}
}
