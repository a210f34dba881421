package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/models"
)

func TestFilter_OnlyAuthorizedRows(t *testing.T) {
	caller := authz.NewCaller("k1", models.RoleViewer, authz.NewTenantSet("A"))

	rows := []models.Anomaly{
		{ID: "1", TenantID: "A"},
		{ID: "2", TenantID: "B"},
		{ID: "3", TenantID: "A"},
	}

	got := authz.Filter(rows, caller)
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
}

func TestFilter_EmptySetReturnsNothing(t *testing.T) {
	caller := authz.NewCaller("k1", models.RoleViewer, authz.NewTenantSet())

	got := authz.Filter([]models.SyncJobRun{{TenantID: "A"}}, caller)
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %d", len(got))
	}
}

func TestValidateAccess(t *testing.T) {
	tests := []struct {
		name    string
		caller  authz.Caller
		tenant  string
		wantErr bool
	}{
		{name: "member", caller: authz.NewCaller("k", models.RoleViewer, authz.NewTenantSet("A")), tenant: "A"},
		{name: "non-member", caller: authz.NewCaller("k", models.RoleViewer, authz.NewTenantSet("A")), tenant: "B", wantErr: true},
		{name: "empty set", caller: authz.NewCaller("k", models.RoleViewer, authz.NewTenantSet()), tenant: "B", wantErr: true},
		{name: "zero caller", caller: authz.Caller{}, tenant: "A", wantErr: true},
		{name: "wildcard", caller: authz.NewCaller("k", models.RoleAdmin, authz.Wildcard()), tenant: "Z"},
		{name: "empty tenant id", caller: authz.NewCaller("k", models.RoleAdmin, authz.Wildcard()), tenant: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := authz.ValidateAccess(tc.tenant, tc.caller)
			if tc.wantErr && !errors.Is(err, models.ErrTenantAccessDenied) {
				t.Fatalf("expected ErrTenantAccessDenied, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFromPrincipal_WildcardRequiresAdmin(t *testing.T) {
	operator := authz.FromPrincipal(models.Principal{KeyID: "k", Role: models.RoleOperator, AllTenants: true, Tenants: []string{"A"}})
	if authz.AuthorizedTenants(operator).All {
		t.Fatal("non-admin must not receive wildcard")
	}
	if !authz.AuthorizedTenants(operator).Contains("A") || authz.AuthorizedTenants(operator).Contains("B") {
		t.Fatal("expected explicit set {A}")
	}

	admin := authz.FromPrincipal(models.Principal{KeyID: "k", Role: models.RoleAdmin, AllTenants: true})
	if !authz.AuthorizedTenants(admin).Contains("anything") {
		t.Fatal("admin with explicit grant should see all tenants")
	}

	plainAdmin := authz.FromPrincipal(models.Principal{KeyID: "k", Role: models.RoleAdmin})
	if !authz.AuthorizedTenants(plainAdmin).Empty() {
		t.Fatal("admin without grant must not default to all tenants")
	}
}

func TestCallerContext(t *testing.T) {
	if !authz.AuthorizedTenants(authz.CallerFrom(context.Background())).Empty() {
		t.Fatal("missing caller must grant nothing")
	}

	c := authz.NewCaller("k", models.RoleOperator, authz.NewTenantSet("A", "B"))
	got := authz.CallerFrom(authz.WithCaller(context.Background(), c))

	if ids := authz.AuthorizedTenants(got).IDs(); len(ids) != 2 || ids[0] != "A" {
		t.Fatalf("unexpected ids %v", ids)
	}

	if !authz.CanOperate(got) {
		t.Fatal("operator should be able to operate")
	}
}
