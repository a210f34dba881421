package service

import (
	"context"
	"errors"
	"testing"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/store"
)

const alertID = "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b"

func TestAlertService_ListAlerts(t *testing.T) {
	var gotScope store.TenantScope

	ma := &mockAlerts{
		list: func(_ context.Context, scope store.TenantScope, _ bool, _ models.Page) ([]models.Alert, bool, error) {
			gotScope = scope
			return []models.Alert{{ID: "1", TenantID: tenantA}, {ID: "2", TenantID: tenantB}}, true, nil
		},
	}
	svc := NewAlertService(ma, nil, testLogger())

	got, hasMore, err := svc.ListAlerts(context.Background(), authz.NewCaller("k", models.RoleAdmin, authz.Wildcard()), false, models.Page{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !gotScope.All || len(got) != 2 || !hasMore {
		t.Errorf("wildcard caller: scope = %+v, got %d alerts, hasMore = %v", gotScope, len(got), hasMore)
	}

	got, _, err = svc.ListAlerts(context.Background(), authz.NewCaller("k", models.RoleViewer, authz.NewTenantSet(tenantB)), true, models.Page{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 1 || got[0].TenantID != tenantB {
		t.Errorf("got %+v, want only tenant B", got)
	}
}

func TestAlertService_ResolveAlert(t *testing.T) {
	resolveCalls := 0

	newAlerts := func(resolved bool) *mockAlerts {
		return &mockAlerts{
			getAlert: func(_ context.Context, id string) (*models.Alert, error) {
				return &models.Alert{ID: id, TenantID: tenantA, Resolved: resolved}, nil
			},
			resolve: func(_ context.Context, id string) (*models.Alert, error) {
				resolveCalls++
				return &models.Alert{ID: id, TenantID: tenantA, Resolved: true}, nil
			},
		}
	}

	operatorA := authz.NewCaller("k", models.RoleOperator, authz.NewTenantSet(tenantA))
	audit := &mockEnqueuer{}

	got, err := NewAlertService(newAlerts(false), audit, testLogger()).ResolveAlert(context.Background(), operatorA, alertID)
	if err != nil || !got.Resolved {
		t.Fatalf("resolve: %+v, %v", got, err)
	}

	if a := audit.actions(); len(a) != 1 || a[0] != "alert.resolve" {
		t.Errorf("audit actions = %v", a)
	}

	got, err = NewAlertService(newAlerts(true), audit, testLogger()).ResolveAlert(context.Background(), operatorA, alertID)
	if err != nil || !got.Resolved {
		t.Fatalf("second resolve: %+v, %v", got, err)
	}

	if resolveCalls != 1 {
		t.Errorf("store resolve calls = %d, want 1", resolveCalls)
	}

	operatorB := authz.NewCaller("k", models.RoleOperator, authz.NewTenantSet(tenantB))
	if _, err := NewAlertService(newAlerts(false), nil, testLogger()).ResolveAlert(context.Background(), operatorB, alertID); !errors.Is(err, models.ErrTenantAccessDenied) {
		t.Errorf("other tenant: err = %v", err)
	}

	viewer := authz.NewCaller("k", models.RoleViewer, authz.NewTenantSet(tenantA))
	if _, err := NewAlertService(newAlerts(false), nil, testLogger()).ResolveAlert(context.Background(), viewer, alertID); !errors.Is(err, models.ErrInsufficientRole) {
		t.Errorf("viewer: err = %v", err)
	}
}
