package upstream_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/resilience"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

type fakeAPI struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32
	apiCalls   atomic.Int32
	handler    func(w http.ResponseWriter, r *http.Request, call int32)
}

func newFakeAPI(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, call int32)) *fakeAPI {
	t.Helper()

	f := &fakeAPI{handler: handler}
	mux := http.NewServeMux()
	mux.HandleFunc("/contoso/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.handler(w, r, f.apiCalls.Add(1))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func newClient(t *testing.T, f *fakeAPI, threshold int) *upstream.Client {
	t.Helper()

	return newClientWith(t, resilience.LimiterConfig{TenantRate: 1000, TenantBurst: 1000, GlobalRate: 1000, GlobalBurst: 1000}, threshold, upstream.Options{
		TokenURLTemplate: f.srv.URL + "/%s/token",
		Timeout:          2 * time.Second,
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
	})
}

func newClientWith(t *testing.T, limits resilience.LimiterConfig, threshold int, opts upstream.Options) *upstream.Client {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	limiter := resilience.NewLimiter(ctx, limits)
	breakers := resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         time.Hour,
		Ignore:           upstream.IsClientError,
	})

	return upstream.NewClient(opts, limiter, breakers, testLogger())
}

var cred = &credential.Credential{
	TenantID:     "tenant-a",
	Service:      "cost",
	DirectoryID:  "contoso",
	ClientID:     "11111111-1111-4111-8111-111111111111",
	ClientSecret: "shh",
}

type page struct {
	Value    []string `json:"value"`
	NextLink string   `json:"nextLink"`
}

func TestFetch_DecodesAndReusesToken(t *testing.T) {
	f := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		_ = json.NewEncoder(w).Encode(page{Value: []string{"a", "b"}})
	})
	c := newClient(t, f, 5)

	for i := 0; i < 3; i++ {
		var p page
		err := c.Fetch(context.Background(), cred, upstream.Request{Service: "cost", Scope: "s/.default", Method: http.MethodGet, URL: f.srv.URL + "/api/x"}, &p)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, p.Value)
	}

	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestFetch_RetriesTransientErrors(t *testing.T) {
	f := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, call int32) {
		if call < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(page{Value: []string{"ok"}})
	})
	c := newClient(t, f, 5)

	var p page
	err := c.Fetch(context.Background(), cred, upstream.Request{Service: "cost", Scope: "s", Method: http.MethodGet, URL: f.srv.URL + "/api/x"}, &p)
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.apiCalls.Load())
}

func TestFetch_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newClient(t, f, 50)

	var p page
	err := c.Fetch(context.Background(), cred, upstream.Request{Service: "cost", Scope: "s", Method: http.MethodGet, URL: f.srv.URL + "/api/x"}, &p)

	var ue *upstream.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadGateway, ue.StatusCode)
	assert.True(t, ue.Retryable)
	assert.Equal(t, int32(3), f.apiCalls.Load())
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	f := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Authorization_RequestDenied"}`))
	})
	c := newClient(t, f, 1)

	for i := 0; i < 3; i++ {
		var p page
		err := c.Fetch(context.Background(), cred, upstream.Request{Service: "identity", Scope: "s", Method: http.MethodGet, URL: f.srv.URL + "/api/x"}, &p)
		require.Error(t, err)
		assert.True(t, upstream.IsForbidden(err))
		assert.False(t, resilience.IsCircuitOpen(err), "403 must not trip the breaker")
	}

	assert.Equal(t, int32(3), f.apiCalls.Load())
}

func TestFetch_OpenCircuitSkipsNetwork(t *testing.T) {
	f := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newClient(t, f, 2)

	var p page
	req := upstream.Request{Service: "cost", Scope: "s", Method: http.MethodGet, URL: f.srv.URL + "/api/x"}

	err := c.Fetch(context.Background(), cred, req, &p)
	require.True(t, resilience.IsCircuitOpen(err), "third attempt should hit the open circuit, got %v", err)
	assert.Equal(t, int32(2), f.apiCalls.Load())

	err = c.Fetch(context.Background(), cred, req, &p)
	require.True(t, resilience.IsCircuitOpen(err))
	assert.Equal(t, int32(2), f.apiCalls.Load(), "open circuit must not reach the network")
}

func TestFetch_PostsBody(t *testing.T) {
	f := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.Method != http.MethodPost || body["type"] != "ActualCost" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(page{Value: []string{"posted"}})
	})
	c := newClient(t, f, 5)

	var p page
	err := c.Fetch(context.Background(), cred, upstream.Request{
		Service: "cost", Scope: "s", Method: http.MethodPost, URL: f.srv.URL + "/api/query",
		Body: map[string]string{"type": "ActualCost"},
	}, &p)
	require.NoError(t, err)
	assert.Equal(t, []string{"posted"}, p.Value)
}

// hungTokenServer never answers token requests until the test ends.
func hungTokenServer(t *testing.T) string {
	t.Helper()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	return srv.URL + "/%s/token"
}

func fetchWithin(ctx context.Context, t *testing.T, c *upstream.Client, limit time.Duration) error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		var p page
		done <- c.Fetch(ctx, cred, upstream.Request{Service: "cost", Scope: "s", Method: http.MethodGet, URL: "http://127.0.0.1:1/api/x"}, &p)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(limit):
		t.Fatalf("Fetch still blocked after %s", limit)
		return nil
	}
}

func TestFetch_TokenRequestBoundByCallTimeout(t *testing.T) {
	limits := resilience.LimiterConfig{TenantRate: 1000, TenantBurst: 1000, GlobalRate: 1000, GlobalBurst: 1000}
	c := newClientWith(t, limits, 5, upstream.Options{
		TokenURLTemplate: hungTokenServer(t),
		Timeout:          100 * time.Millisecond,
		MaxAttempts:      1,
		InitialBackoff:   time.Millisecond,
	})

	start := time.Now()
	err := fetchWithin(context.Background(), t, c, 3*time.Second)

	var ue *upstream.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.Retryable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetch_TokenRequestStopsOnCancel(t *testing.T) {
	limits := resilience.LimiterConfig{TenantRate: 1000, TenantBurst: 1000, GlobalRate: 1000, GlobalBurst: 1000}
	c := newClientWith(t, limits, 5, upstream.Options{
		TokenURLTemplate: hungTokenServer(t),
		Timeout:          time.Hour,
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := fetchWithin(ctx, t, c, 3*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetch_OpenCircuitSpendsNoRateTokens(t *testing.T) {
	f := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// One token and effectively no refill: a second Acquire could never succeed.
	limits := resilience.LimiterConfig{TenantRate: 0.0001, TenantBurst: 1, GlobalRate: 0.0001, GlobalBurst: 1}
	c := newClientWith(t, limits, 1, upstream.Options{
		TokenURLTemplate: f.srv.URL + "/%s/token",
		Timeout:          time.Second,
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
	})

	req := upstream.Request{Service: "cost", Scope: "s", Method: http.MethodGet, URL: f.srv.URL + "/api/x"}

	var p page
	err := c.Fetch(context.Background(), cred, req, &p)
	require.True(t, resilience.IsCircuitOpen(err), "got %v", err)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		err := c.Fetch(ctx, cred, req, &p)
		cancel()
		assert.True(t, resilience.IsCircuitOpen(err), "call %d: want circuit open before rate limiting, got %v", i, err)
	}

	assert.Equal(t, int32(1), f.apiCalls.Load())
}
