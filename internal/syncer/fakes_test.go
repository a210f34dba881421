package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

const (
	tenantA = "6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f"
	tenantB = "7a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	subA    = "00000000-0000-0000-0000-00000000000a"
)

var fixedNow = time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	l.SetOutput(io.Discard)

	return l
}

type mockCreds struct {
	err error
}

func (m *mockCreds) Resolve(_ context.Context, tenantID, service string) (*credential.Credential, error) {
	if m.err != nil {
		return nil, m.err
	}

	return &credential.Credential{TenantID: tenantID, Service: service, ClientID: tenantB, DirectoryID: tenantID}, nil
}

// route answers requests whose URL contains match, in registration order.
type route struct {
	match string
	body  string
	err   error
}

type mockFetcher struct {
	mu     sync.Mutex
	routes []route
	calls  []string
	onCall func(url string)
}

func (m *mockFetcher) on(match, body string) *mockFetcher {
	m.routes = append(m.routes, route{match: match, body: body})
	return m
}

func (m *mockFetcher) fail(match string, err error) *mockFetcher {
	m.routes = append(m.routes, route{match: match, err: err})
	return m
}

func (m *mockFetcher) Fetch(ctx context.Context, _ *credential.Credential, req upstream.Request, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req.URL)
	hook := m.onCall
	m.mu.Unlock()

	if hook != nil {
		hook(req.URL)
	}

	for _, r := range m.routes {
		if strings.Contains(req.URL, r.match) {
			if r.err != nil {
				return r.err
			}
			return json.Unmarshal([]byte(r.body), out)
		}
	}

	return &upstream.UpstreamError{Service: req.Service, StatusCode: 404, Err: fmt.Errorf("no route for %s", req.URL)}
}

func (m *mockFetcher) callCount(match string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.calls {
		if strings.Contains(c, match) {
			n++
		}
	}

	return n
}

// memStore keeps rows keyed like the database unique constraints so repeated
// upserts within one window overwrite instead of adding.
type memStore struct {
	mu         sync.Mutex
	cost       map[string]models.CostSnapshot
	compliance map[string]models.ComplianceSnapshot
	resources  map[string]models.ResourceSnapshot
	identities map[string]models.IdentitySnapshot
	failCost   error
}

func newMemStore() *memStore {
	return &memStore{
		cost:       make(map[string]models.CostSnapshot),
		compliance: make(map[string]models.ComplianceSnapshot),
		resources:  make(map[string]models.ResourceSnapshot),
		identities: make(map[string]models.IdentitySnapshot),
	}
}

func windowKey(m models.SnapshotMeta, parts ...string) string {
	return m.TenantID + "|" + strings.Join(parts, "|") + "|" + m.SyncWindow.Format(time.RFC3339)
}

func (s *memStore) UpsertCost(_ context.Context, _ string, rows []models.CostSnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCost != nil {
		return 0, s.failCost
	}

	for _, r := range rows {
		s.cost[windowKey(r.SnapshotMeta, r.SubscriptionID, r.ResourceGroup, r.ServiceName, r.UsageDate.Format("2006-01-02"), r.Currency)] = r
	}

	return len(rows), nil
}

func (s *memStore) UpsertCompliance(_ context.Context, _ string, rows []models.ComplianceSnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.compliance[windowKey(r.SnapshotMeta, r.SubscriptionID, r.PolicyName)] = r
	}

	return len(rows), nil
}

func (s *memStore) UpsertResources(_ context.Context, _ string, rows []models.ResourceSnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.resources[windowKey(r.SnapshotMeta, r.ResourceID)] = r
	}

	return len(rows), nil
}

func (s *memStore) UpsertIdentities(_ context.Context, _ string, rows []models.IdentitySnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.identities[windowKey(r.SnapshotMeta, r.ObjectID)] = r
	}

	return len(rows), nil
}

func testDeps(f *mockFetcher, s *memStore) Deps {
	return Deps{
		Credentials: &mockCreds{},
		Upstream:    f,
		Store:       s,
		Endpoints:   Endpoints{Management: "https://mgmt.test", Graph: "https://graph.test"},
		Log:         testLogger(),
		Now:         func() time.Time { return fixedNow },
	}
}

const subscriptionsJSON = `{"value":[{"subscriptionId":"` + subA + `","displayName":"prod","state":"Enabled"},
	{"subscriptionId":"disabled-sub","state":"Disabled"}]}`
