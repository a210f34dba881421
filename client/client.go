// Package client provides a typed Go SDK for the tenantwatch REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "tenantwatch-go"

	// Largest response body read before decoding.
	maxResponseBytes = 16 << 20
)

// Client talks to one tenantwatch server. The per-area services share its
// transport and credentials.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client

	Sync      *SyncService
	Anomalies *AnomalyService
	Alerts    *AlertService
	Tenants   *TenantService
	Audit     *AuditService
	Events    *EventService
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey authenticates every request with key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New returns a client for baseURL, e.g. "http://localhost:3040". A trailing
// slash is ignored.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Sync = &SyncService{c: c}
	c.Anomalies = &AnomalyService{c: c}
	c.Alerts = &AlertService{c: c}
	c.Tenants = &TenantService{c: c}
	c.Audit = &AuditService{c: c}
	c.Events = &EventService{c: c}

	return c
}

// Health returns the liveness response. It needs no API key.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return getAs[HealthResponse](ctx, c, "/api/v1/health", nil)
}

// Ready reports database readiness. A server that is not ready answers 503,
// surfaced as an *APIError.
func (c *Client) Ready(ctx context.Context) (*ReadinessResponse, error) {
	return getAs[ReadinessResponse](ctx, c, "/api/v1/ready", nil)
}

// Stats returns fleet-wide counters. Requires an all-tenants admin key.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	return getAs[StatsResponse](ctx, c, "/api/v1/stats", nil)
}

// getAs issues a GET and decodes the body into a new T.
func getAs[T any](ctx context.Context, c *Client, path string, params url.Values) (*T, error) {
	out := new(T)
	if err := c.get(ctx, path, params, out); err != nil {
		return nil, err
	}

	return out, nil
}

// endpoint joins path and an optional query string.
func endpoint(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}

	return path + "?" + params.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return req, nil
}

// do sends one request and decodes a JSON body into out when out is non-nil.
// Non-2xx answers come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}

	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, endpoint(path, params), nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) del(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodDelete, endpoint(path, params), nil, out)
}
