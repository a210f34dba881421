package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// problems collects every configuration error so one failed start shows
// the operator all of them.
type problems struct {
	err *multierror.Error
}

func (p *problems) addf(format string, args ...any) {
	p.err = multierror.Append(p.err, fmt.Errorf(format, args...))
}

func (c *Config) validate() error {
	var p problems

	c.checkDatabase(&p)
	c.checkListeners(&p)
	c.checkCORS(&p)
	c.checkSecrets(&p)
	c.checkUpstream(&p)
	c.checkSync(&p)

	return p.err.ErrorOrNil()
}

func (c *Config) checkDatabase(p *problems) {
	raw := c.DatabaseURL.Value()
	if raw == "" {
		p.addf("DATABASE_URL is required")
		return
	}

	u, err := url.Parse(raw)
	if err != nil {
		p.addf("DATABASE_URL is not a valid URL: %w", err)
		return
	}

	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		p.addf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	switch host := u.Hostname(); {
	case host == "":
		p.addf("DATABASE_URL must include a host")
	case !isLoopbackHost(host) && u.Query().Get("sslmode") == "disable":
		p.addf("DATABASE_URL sslmode=disable is not allowed for non-local host %q", host)
	}
}

func (c *Config) checkListeners(p *problems) {
	port, okPort := checkPort(p, "PORT", c.Port)
	metrics, okMetrics := checkPort(p, "METRICS_PORT", c.MetricsPort)

	if okPort && okMetrics && port == metrics {
		p.addf("METRICS_PORT must differ from PORT")
	}

	// Loopback for local runs; the unspecified address only behind a container boundary.
	switch c.ListenHost {
	case "127.0.0.1", "::1", "localhost", "0.0.0.0", "::":
	default:
		p.addf("LISTEN_HOST must be a loopback address or 0.0.0.0/:: for containers (got %q)", c.ListenHost)
	}
}

func checkPort(p *problems, key, raw string) (int, bool) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		p.addf("%s must be a valid integer: %w", key, err)
		return 0, false
	}

	if port < 1 || port > 65535 {
		p.addf("%s must be between 1 and 65535", key)
		return 0, false
	}

	return port, true
}

func (c *Config) checkCORS(p *problems) {
	for _, origin := range c.CORSOrigins {
		switch {
		case origin == "*":
			p.addf("CORS_ORIGINS must not contain wildcard '*'")
		case strings.ContainsAny(origin, "*?[]"):
			p.addf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		default:
			if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
				p.addf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
			}
		}
	}
}

func (c *Config) checkSecrets(p *problems) {
	switch key := c.SealingKey.Value(); {
	case key == "":
		p.addf("SEALING_KEY is required")
	default:
		if b, err := hex.DecodeString(key); err != nil {
			p.addf("SEALING_KEY must be valid hex: %w", err)
		} else if len(b) != 32 {
			p.addf("SEALING_KEY must be 64 hex characters (32 bytes), got %d chars", len(key))
		}
	}

	switch c.SecretProvider {
	case "env":
	case "vault":
		if c.VaultToken.Value() == "" {
			p.addf("VAULT_TOKEN is required when SECRET_PROVIDER is vault")
		}
		if !isLocalhost(c.VaultAddr) && !strings.HasPrefix(c.VaultAddr, "https://") {
			p.addf("VAULT_ADDR must use HTTPS for non-localhost connections")
		}
	default:
		p.addf("SECRET_PROVIDER must be 'env' or 'vault', got %q", c.SecretProvider)
	}

	if (c.DelegatedClientID == "") != (c.DelegatedClientSecret.Value() == "") {
		p.addf("DELEGATED_CLIENT_ID and DELEGATED_CLIENT_SECRET must be set together")
	}
}

func (c *Config) checkUpstream(p *problems) {
	for _, ep := range []struct{ key, raw string }{
		{"UPSTREAM_BASE_URL", c.UpstreamBaseURL},
		{"GRAPH_BASE_URL", c.GraphBaseURL},
	} {
		u, err := url.ParseRequestURI(ep.raw)
		switch {
		case err != nil || u.Host == "":
			p.addf("%s is not a valid URL", ep.key)
		case u.Scheme != "https" && !isLocalhost(ep.raw):
			p.addf("%s must use HTTPS for non-localhost hosts", ep.key)
		}
	}

	if strings.Count(c.TokenURLTemplate, "%s") != 1 {
		p.addf("TOKEN_URL_TEMPLATE must contain exactly one %%s placeholder for the directory id")
	}

	if c.UpstreamTimeout < time.Second {
		p.addf("UPSTREAM_TIMEOUT must be at least 1s")
	}
}

func (c *Config) checkSync(p *problems) {
	if c.CredentialTTL < time.Minute || c.CredentialTTL > time.Hour {
		p.addf("CREDENTIAL_TTL must be between 1m and 1h")
	}

	if c.BreakerCooldown <= 0 || c.BreakerWindow <= 0 {
		p.addf("BREAKER_COOLDOWN and BREAKER_WINDOW must be positive")
	}

	if c.SyncStagger < 0 {
		p.addf("SYNC_STAGGER must not be negative")
	}

	for _, iv := range []struct {
		key string
		d   time.Duration
	}{
		{"INTERVAL_COST", c.Intervals.Cost},
		{"INTERVAL_COMPLIANCE", c.Intervals.Compliance},
		{"INTERVAL_RESOURCE", c.Intervals.Resource},
		{"INTERVAL_IDENTITY", c.Intervals.Identity},
	} {
		if iv.d < time.Minute {
			p.addf("%s must be at least 1m", iv.key)
		}
	}

	if c.GlobalRatePerSec < c.RatePerSec {
		p.addf("GLOBAL_RATE_PER_SEC must be >= RATE_PER_SEC")
	}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isLocalhost reports whether the URL addr points at a loopback host.
func isLocalhost(addr string) bool {
	u, err := url.Parse(addr)
	return err == nil && isLoopbackHost(u.Hostname())
}
