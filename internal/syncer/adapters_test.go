package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/resilience"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

const costPage1 = `{"properties":{
	"nextLink":"https://mgmt.test/cost-page-2",
	"columns":[{"name":"Cost"},{"name":"UsageDate"},{"name":"ResourceGroupName"},{"name":"ServiceName"},{"name":"Currency"}],
	"rows":[
		[12.5, 20260310, "RG-Web", "Virtual Machines", "EUR"],
		[0, 20260310, "rg-web", "Bandwidth", "EUR"],
		[3.25, 20260309, "rg-data", "Storage", "USD"]
	]}}`

const costPage2 = `{"properties":{
	"columns":[{"name":"Cost"},{"name":"UsageDate"},{"name":"ResourceGroupName"},{"name":"ServiceName"}],
	"rows":[[7, 20260310, "rg-data", "Storage"]]}}`

func TestParseResourceID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    ResourceID
		wantErr bool
	}{
		{
			name: "top level",
			id:   "/subscriptions/s1/resourceGroups/RG-Web/providers/Microsoft.Compute/virtualMachines/vm1",
			want: ResourceID{SubscriptionID: "s1", ResourceGroup: "rg-web", Type: "Microsoft.Compute/virtualMachines", Name: "vm1"},
		},
		{
			name: "child resource",
			id:   "/subscriptions/s1/resourcegroups/rg/providers/Microsoft.Sql/servers/sql1/databases/db1",
			want: ResourceID{SubscriptionID: "s1", ResourceGroup: "rg", Type: "Microsoft.Sql/servers/databases", Name: "db1"},
		},
		{name: "resource group only", id: "/subscriptions/s1/resourceGroups/rg", wantErr: true},
		{name: "missing name", id: "/subscriptions/s1/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines", wantErr: true},
		{name: "wrong keyword", id: "/tenants/s1/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/vm1", wantErr: true},
		{name: "empty", id: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseResourceID(tc.id)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidResourceID)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsOrphaned(t *testing.T) {
	tests := []struct {
		name string
		r    models.ResourceSnapshot
		want bool
	}{
		{name: "healthy", r: models.ResourceSnapshot{ProvisioningState: "Succeeded", Tags: map[string]string{"env": "prod"}}},
		{name: "failed", r: models.ResourceSnapshot{ProvisioningState: "Failed"}, want: true},
		{name: "canceled lower case", r: models.ResourceSnapshot{ProvisioningState: "canceled"}, want: true},
		{name: "tag key marker", r: models.ResourceSnapshot{Tags: map[string]string{"Orphaned": "true"}}, want: true},
		{name: "tag value marker", r: models.ResourceSnapshot{Tags: map[string]string{"status": "Delete-Me"}}, want: true},
		{name: "unrelated tag", r: models.ResourceSnapshot{Tags: map[string]string{"owner": "platform"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsOrphaned(&tc.r, DefaultOrphanRules))
		})
	}
}

func TestCompliancePercent(t *testing.T) {
	assert.InDelta(t, 75.0, CompliancePercent(3, 1), 0.001)
	assert.InDelta(t, 100.0, CompliancePercent(0, 0), 0.001)
	assert.InDelta(t, 0.0, CompliancePercent(0, 4), 0.001)
}

func TestIsPrivilegedRole(t *testing.T) {
	assert.GreaterOrEqual(t, len(PrivilegedRoles), 16)
	assert.True(t, IsPrivilegedRole("global administrator"))
	assert.True(t, IsPrivilegedRole(" Security Administrator "))
	assert.False(t, IsPrivilegedRole("Reports Reader"))
}

func TestIsStale(t *testing.T) {
	recent := fixedNow.AddDate(0, 0, -10)
	old := fixedNow.AddDate(0, 0, -91)

	assert.True(t, IsStale(nil, fixedNow, 90*24*time.Hour))
	assert.False(t, IsStale(&recent, fixedNow, 90*24*time.Hour))
	assert.True(t, IsStale(&old, fixedNow, 90*24*time.Hour))
}

func TestCostAdapter_MapsAndFilters(t *testing.T) {
	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		on("cost-page-2", costPage2).
		on("CostManagement/query", costPage1)
	s := newMemStore()

	res := NewCostAdapter(testDeps(f, s), 24*time.Hour).Run(context.Background(), tenantA)

	require.NoError(t, res.Err())
	assert.False(t, res.Failed())
	assert.Equal(t, 3, res.RecordsProcessed)
	require.Len(t, s.cost, 3)

	currencies := map[string]string{}
	for _, r := range s.cost {
		assert.Equal(t, tenantA, r.TenantID)
		assert.Equal(t, subA, r.SubscriptionID)
		assert.NotZero(t, r.Cost)
		assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), r.SyncWindow)
		currencies[r.ServiceName+"/"+r.UsageDate.Format("0102")] = r.Currency
	}

	assert.Equal(t, "EUR", currencies["Virtual Machines/0310"])
	assert.Equal(t, "USD", currencies["Storage/0309"])
	assert.Equal(t, "USD", currencies["Storage/0310"])
	assert.Equal(t, 0, f.callCount("disabled-sub"))
}

func TestCostAdapter_RerunSameWindowIsIdempotent(t *testing.T) {
	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		on("cost-page-2", costPage2).
		on("CostManagement/query", costPage1)
	s := newMemStore()
	a := NewCostAdapter(testDeps(f, s), 24*time.Hour)

	a.Run(context.Background(), tenantA)
	a.Run(context.Background(), tenantA)
	assert.Len(t, s.cost, 3)

	// A later window keeps the earlier rows as history.
	deps := testDeps(f, s)
	deps.Now = func() time.Time { return fixedNow.Add(24 * time.Hour) }
	NewCostAdapter(deps, 24*time.Hour).Run(context.Background(), tenantA)
	assert.Len(t, s.cost, 6)
}

func TestCostAdapter_PageFailureKeepsEarlierPages(t *testing.T) {
	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		fail("cost-page-2", &upstream.UpstreamError{Service: "cost", StatusCode: 500, Retryable: true, Err: errors.New("boom")}).
		on("CostManagement/query", costPage1)
	s := newMemStore()

	res := NewCostAdapter(testDeps(f, s), 24*time.Hour).Run(context.Background(), tenantA)

	assert.False(t, res.Failed(), "partial success is not a failed run")
	assert.Equal(t, 2, res.RecordsProcessed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Page)
	assert.Len(t, s.cost, 2)
	assert.Contains(t, res.Err().Error(), "page 2")
}

func TestCostAdapter_StoreFailureContinuesToNextPage(t *testing.T) {
	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		on("cost-page-2", costPage2).
		on("CostManagement/query", costPage1)
	s := newMemStore()
	s.failCost = errors.New("db down")

	res := NewCostAdapter(testDeps(f, s), 24*time.Hour).Run(context.Background(), tenantA)

	assert.True(t, res.Failed())
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 1, f.callCount("cost-page-2"))
}

func TestCostAdapter_CredentialErrorIsFatal(t *testing.T) {
	f := &mockFetcher{}
	deps := testDeps(f, newMemStore())
	deps.Credentials = &mockCreds{err: &credential.CredentialError{TenantID: tenantA}}

	res := NewCostAdapter(deps, 24*time.Hour).Run(context.Background(), tenantA)

	assert.True(t, res.Failed())
	assert.True(t, credential.IsCredentialError(res.Fatal))
	assert.Empty(t, f.calls)
}

func TestCostAdapter_OpenCircuitStopsRun(t *testing.T) {
	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		fail("CostManagement/query", &resilience.CircuitOpenError{TenantID: tenantA, Service: "cost"})

	res := NewCostAdapter(testDeps(f, newMemStore()), 24*time.Hour).Run(context.Background(), tenantA)

	assert.True(t, res.Failed())
	assert.True(t, resilience.IsCircuitOpen(res.Fatal))
}

func TestCostAdapter_CancellationBetweenPagesKeepsRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		on("cost-page-2", costPage2).
		on("CostManagement/query", costPage1)
	s := newMemStore()
	f.onCall = func(url string) {
		if url == "https://mgmt.test/cost-page-2" {
			t.Error("second page fetched after cancellation")
		}
	}

	deps := testDeps(f, s)
	deps.Store = cancelingStore{memStore: s, cancel: cancel}

	res := NewCostAdapter(deps, 24*time.Hour).Run(ctx, tenantA)

	assert.ErrorIs(t, res.Fatal, context.Canceled)
	assert.Len(t, s.cost, 2, "rows written before cancellation stay")
}

type cancelingStore struct {
	*memStore
	cancel context.CancelFunc
}

func (c cancelingStore) UpsertCost(ctx context.Context, tenantID string, rows []models.CostSnapshot) (int, error) {
	n, err := c.memStore.UpsertCost(ctx, tenantID, rows)
	c.cancel()

	return n, err
}

const policyPage1 = `{"@odata.nextLink":"https://mgmt.test/policy-page-2","value":[
	{"policyDefinitionName":"Require encryption at rest","policyDefinitionCategory":"Storage","complianceState":"Compliant"},
	{"policyDefinitionName":"Require encryption at rest","policyDefinitionCategory":"Storage","complianceState":"NonCompliant"},
	{"policyDefinitionName":"Enable diagnostic logging","policyDefinitionCategory":"Monitoring","complianceState":"Exempt"}
]}`

const policyPage2 = `{"value":[
	{"policyDefinitionName":"Require encryption at rest","policyDefinitionCategory":"Storage","complianceState":"Compliant"},
	{"policyDefinitionName":"Resources must have an owner tag","policyDefinitionCategory":"General","complianceState":"NonCompliant"}
]}`

func TestComplianceAdapter_Aggregates(t *testing.T) {
	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		on("policy-page-2", policyPage2).
		on("policyStates/latest", policyPage1).
		on("secureScores/ascScore", `{"properties":{"score":{"current":6.1,"max":10,"percentage":0.61}}}`)
	s := newMemStore()

	res := NewComplianceAdapter(testDeps(f, s), 4*time.Hour, nil).Run(context.Background(), tenantA)

	require.NoError(t, res.Err())
	assert.Equal(t, 3, res.RecordsProcessed)

	byName := map[string]models.ComplianceSnapshot{}
	for _, r := range s.compliance {
		byName[r.PolicyName] = r
	}

	enc := byName["Require encryption at rest"]
	assert.Equal(t, 2, enc.Compliant)
	assert.Equal(t, 1, enc.NonCompliant)
	assert.InDelta(t, 66.666, enc.CompliancePercent, 0.01)
	assert.Equal(t, models.SeverityHigh, enc.Severity)
	require.NotNil(t, enc.SecurityScore)
	assert.InDelta(t, 61.0, *enc.SecurityScore, 0.001)

	diag := byName["Enable diagnostic logging"]
	assert.Equal(t, 1, diag.Exempt)
	assert.InDelta(t, 100.0, diag.CompliancePercent, 0.001)
	assert.Equal(t, models.SeverityMedium, diag.Severity)

	assert.Equal(t, models.SeverityLow, byName["Resources must have an owner tag"].Severity)
	assert.Equal(t, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), enc.SyncWindow)
}

func TestComplianceAdapter_PartialSubscriptionIsNotWritten(t *testing.T) {
	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		fail("policy-page-2", &upstream.UpstreamError{Service: "compliance", StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}).
		on("policyStates/latest", policyPage1)
	s := newMemStore()

	res := NewComplianceAdapter(testDeps(f, s), 4*time.Hour, nil).Run(context.Background(), tenantA)

	assert.True(t, res.Failed())
	assert.Empty(t, s.compliance)
	assert.Equal(t, 0, f.callCount("secureScores"))
}

const resourcePageJSON = `{"value":[
	{"id":"/subscriptions/` + subA + `/resourceGroups/RG-Web/providers/Microsoft.Compute/disks/disk1","name":"disk1","type":"Microsoft.Compute/disks","location":"westeurope","tags":{"lifecycle":"unused"},"provisioningState":"Succeeded"},
	{"id":"/subscriptions/` + subA + `/resourceGroups/rg-web/providers/Microsoft.Network/publicIPAddresses/ip1","name":"ip1","type":"Microsoft.Network/publicIPAddresses","location":"westeurope","properties":{"provisioningState":"Failed"}},
	{"id":"/subscriptions/` + subA + `/resourceGroups/rg-web/providers/Microsoft.Web/sites/app1","name":"app1","type":"Microsoft.Web/sites","location":"westeurope","provisioningState":"Succeeded"},
	{"id":"not-a-resource-id","name":"broken"}
]}`

func TestResourceAdapter_ClassifiesOrphans(t *testing.T) {
	f := (&mockFetcher{}).
		on("/subscriptions?api-version", subscriptionsJSON).
		on("/resources?api-version", resourcePageJSON)
	s := newMemStore()

	res := NewResourceAdapter(testDeps(f, s), time.Hour, nil).Run(context.Background(), tenantA)

	assert.False(t, res.Failed())
	assert.Equal(t, 3, res.RecordsProcessed)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrInvalidResourceID)

	orphaned := map[string]bool{}
	for _, r := range s.resources {
		orphaned[r.Name] = r.IsOrphaned
		assert.Equal(t, "rg-web", r.ResourceGroup)
		assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), r.SyncWindow)
	}

	assert.Equal(t, map[string]bool{"disk1": true, "ip1": true, "app1": false}, orphaned)
}

const (
	adminID = "11111111-1111-1111-1111-111111111111"
	guestID = "22222222-2222-2222-2222-222222222222"
	spID    = "33333333-3333-3333-3333-333333333333"
)

const rolesJSON = `{"value":[
	{"displayName":"Global Administrator","members":[{"id":"` + adminID + `"}]},
	{"displayName":"Reports Reader","members":[{"id":"` + guestID + `"}]},
	{"displayName":"Application Administrator","members":[{"id":"` + spID + `"}]}
]}`

const usersJSON = `{"value":[
	{"id":"` + adminID + `","displayName":"Admin","userPrincipalName":"admin@contoso.test","userType":"Member",
	 "signInActivity":{"lastSignInDateTime":"2026-03-01T10:00:00Z"}},
	{"id":"` + guestID + `","displayName":"Guest","userPrincipalName":"guest_ext#EXT#@contoso.test","userType":"Guest"}
]}`

const spsJSON = `{"value":[{"id":"` + spID + `","displayName":"deployer","appId":"x"}]}`

func identityFetcher() *mockFetcher {
	return (&mockFetcher{}).
		on("directoryRoles", rolesJSON).
		on("/users?", usersJSON).
		on("servicePrincipals", spsJSON)
}

func identitiesByID(s *memStore) map[string]models.IdentitySnapshot {
	out := map[string]models.IdentitySnapshot{}
	for _, r := range s.identities {
		out[r.ObjectID] = r
	}

	return out
}

func TestIdentityAdapter_Classifies(t *testing.T) {
	f := identityFetcher()
	f.routes = append([]route{{match: "userRegistrationDetails", body: `{"value":[
		{"id":"` + adminID + `","isMfaRegistered":true},
		{"id":"` + guestID + `","isMfaRegistered":false}]}`}}, f.routes...)
	s := newMemStore()

	res := NewIdentityAdapter(testDeps(f, s), 24*time.Hour, 90).Run(context.Background(), tenantA)

	require.NoError(t, res.Err())
	assert.Equal(t, 3, res.RecordsProcessed)

	got := identitiesByID(s)

	admin := got[adminID]
	assert.Equal(t, models.IdentityUser, admin.Kind)
	assert.True(t, admin.IsPrivileged)
	assert.False(t, admin.IsStale)
	assert.Equal(t, models.MFARegistered, admin.MFAState)

	guest := got[guestID]
	assert.Equal(t, models.IdentityGuest, guest.Kind)
	assert.False(t, guest.IsPrivileged)
	assert.True(t, guest.IsStale, "never signed in")
	assert.Equal(t, models.MFANotRegistered, guest.MFAState)

	sp := got[spID]
	assert.Equal(t, models.IdentityServicePrincipal, sp.Kind)
	assert.True(t, sp.IsPrivileged)
	assert.False(t, sp.IsStale)
}

func TestIdentityAdapter_MFAForbiddenMarksUnknown(t *testing.T) {
	f := identityFetcher()
	f.routes = append([]route{{
		match: "userRegistrationDetails",
		err:   &upstream.UpstreamError{Service: "identity", StatusCode: 403, Err: errors.New("forbidden")},
	}}, f.routes...)
	s := newMemStore()

	res := NewIdentityAdapter(testDeps(f, s), 24*time.Hour, 90).Run(context.Background(), tenantA)

	assert.False(t, res.Failed())
	assert.Empty(t, res.Errors)

	for _, r := range identitiesByID(s) {
		assert.Equal(t, models.MFAUnknown, r.MFAState, r.DisplayName)
	}
}

func TestIdentityAdapter_RoleFailureIsFatal(t *testing.T) {
	f := (&mockFetcher{}).
		fail("directoryRoles", &upstream.UpstreamError{Service: "identity", StatusCode: 500, Retryable: true, Err: errors.New("boom")}).
		on("/users?", usersJSON)
	s := newMemStore()

	res := NewIdentityAdapter(testDeps(f, s), 24*time.Hour, 90).Run(context.Background(), tenantA)

	assert.True(t, res.Failed())
	assert.Empty(t, s.identities)
	assert.Equal(t, 0, f.callCount("/users?"))
}

func TestSyncResult_Outcome(t *testing.T) {
	assert.False(t, SyncResult{}.Failed())
	assert.NoError(t, SyncResult{}.Err())

	partial := SyncResult{RecordsProcessed: 4}
	partial.addPageError("cost", 2, errors.New("x"))
	assert.False(t, partial.Failed())

	empty := SyncResult{}
	empty.addPageError("cost", 1, errors.New("x"))
	assert.True(t, empty.Failed())
}
