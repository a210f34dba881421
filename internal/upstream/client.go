// Package upstream performs authenticated, rate-limited, circuit-broken calls
// against the paginated cloud APIs the sync adapters read from.
package upstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/metrics"
	"github.com/persistorai/tenantwatch/internal/resilience"
)

// maxBodyBytes caps a single page response.
const maxBodyBytes = 16 << 20

var tracer = otel.Tracer("tenantwatch/upstream")

// Request is one page request.
type Request struct {
	Service string
	Scope   string
	Method  string
	URL     string
	Body    any
}

// Options configures a Client.
type Options struct {
	TokenURLTemplate string
	Timeout          time.Duration
	MaxAttempts      int
	HTTPClient       *http.Client
	// InitialBackoff is the first retry delay. Tests set it low.
	InitialBackoff time.Duration
}

// Client issues upstream requests. Every attempt acquires a rate limiter
// token and passes through the (tenant, service) circuit breaker.
type Client struct {
	opts     Options
	http     *http.Client
	limiter  *resilience.Limiter
	breakers *resilience.Breakers
	log      *logrus.Logger

	tokens sync.Map // string -> *cachedToken
}

// NewClient creates a Client.
func NewClient(opts Options, limiter *resilience.Limiter, breakers *resilience.Breakers, log *logrus.Logger) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}

	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		opts:     opts,
		http:     opts.HTTPClient,
		limiter:  limiter,
		breakers: breakers,
		log:      log,
	}
}

// Fetch performs req for cred and decodes the JSON response into out.
func (c *Client) Fetch(ctx context.Context, cred *credential.Credential, req Request, out any) error {
	ctx, span := tracer.Start(ctx, "upstream.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tenant.id", cred.TenantID),
			attribute.String("upstream.service", req.Service),
			attribute.String("http.method", req.Method),
		),
	)
	defer span.End()

	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("upstream: marshal request: %w", err)
		}
		payload = b
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialBackoff
	eb.MaxInterval = 10 * c.opts.InitialBackoff
	eb.MaxElapsedTime = 0
	bkoff := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.opts.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++

		// An open circuit fails before spending tokens other tenants share.
		if err := c.breakers.Check(cred.TenantID, req.Service); err != nil {
			metrics.UpstreamRequestsTotal.WithLabelValues(req.Service, "circuit_open").Inc()
			return backoff.Permanent(err)
		}

		if err := c.limiter.Acquire(ctx, cred.TenantID, req.Service); err != nil {
			return backoff.Permanent(err)
		}

		err := c.breakers.Execute(ctx, cred.TenantID, req.Service, func(ctx context.Context) error {
			return c.do(ctx, cred, req, payload, out)
		})

		var ue *UpstreamError
		switch {
		case err == nil:
			metrics.UpstreamRequestsTotal.WithLabelValues(req.Service, "ok").Inc()
			return nil
		case resilience.IsCircuitOpen(err):
			metrics.UpstreamRequestsTotal.WithLabelValues(req.Service, "circuit_open").Inc()
			return backoff.Permanent(err)
		case errors.As(err, &ue) && ue.Retryable:
			metrics.UpstreamRequestsTotal.WithLabelValues(req.Service, "retryable").Inc()
			c.log.WithFields(logrus.Fields{
				"tenant_id": cred.TenantID,
				"service":   req.Service,
				"attempt":   attempts,
			}).WithError(err).Debug("upstream call failed, retrying")
			return err
		default:
			metrics.UpstreamRequestsTotal.WithLabelValues(req.Service, "error").Inc()
			return backoff.Permanent(err)
		}
	}, bkoff)

	span.SetAttributes(attribute.Int("upstream.attempts", attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

func (c *Client) do(ctx context.Context, cred *credential.Credential, req Request, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	token, err := c.token(cred, req.Scope).Token(ctx, c.http)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &UpstreamError{Service: req.Service, Retryable: true, Err: fmt.Errorf("token request timed out after %s", c.opts.Timeout)}
		}
		return tokenError(req.Service, err)
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return &UpstreamError{Service: req.Service, Err: fmt.Errorf("create request: %w", err)}
	}

	token.SetAuthHeader(httpReq)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &UpstreamError{Service: req.Service, Retryable: true, Err: fmt.Errorf("request timed out after %s", c.opts.Timeout)}
		}
		return &UpstreamError{Service: req.Service, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxBodyBytes)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(limited, 512))
		return &UpstreamError{
			Service:    req.Service,
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			Err:        fmt.Errorf("%s", bytes.TrimSpace(snippet)),
		}
	}

	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return &UpstreamError{Service: req.Service, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

// token returns the token cache for a credential and scope. A rotated
// secret produces a different cache key.
func (c *Client) token(cred *credential.Credential, scope string) *cachedToken {
	sum := sha256.Sum256([]byte(cred.ClientSecret.Value()))
	key := cred.TenantID + "|" + cred.ClientID + "|" + scope + "|" + hex.EncodeToString(sum[:8])

	if t, ok := c.tokens.Load(key); ok {
		return t.(*cachedToken) //nolint:forcetypeassert // only *cachedToken is stored.
	}

	t, _ := c.tokens.LoadOrStore(key, newCachedToken(&clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret.Value(),
		TokenURL:     fmt.Sprintf(c.opts.TokenURLTemplate, cred.DirectoryID),
		Scopes:       []string{scope},
	}))

	return t.(*cachedToken) //nolint:forcetypeassert // only *cachedToken is stored.
}

// ForgetTenant drops cached tokens for a tenant.
func (c *Client) ForgetTenant(tenantID string) {
	prefix := tenantID + "|"
	c.tokens.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok && len(s) > len(prefix) && s[:len(prefix)] == prefix {
			c.tokens.Delete(k)
		}
		return true
	})
}

func tokenError(service string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		return &UpstreamError{Service: service, StatusCode: code, Retryable: retryableStatus(code), Err: fmt.Errorf("token: %s", re.ErrorCode)}
	}

	return &UpstreamError{Service: service, Retryable: true, Err: fmt.Errorf("token: %w", err)}
}
