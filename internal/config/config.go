// Package config provides environment-driven configuration for tenantwatch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Intervals holds the recurring cadence for each sync domain.
type Intervals struct {
	Cost       time.Duration
	Compliance time.Duration
	Resource   time.Duration
	Identity   time.Duration
}

// Config holds all application configuration values.
type Config struct {
	DatabaseURL Secret
	Port        string
	MetricsPort string
	ListenHost  string
	CORSOrigins []string
	LogLevel    string
	DBMaxConns  int32

	SecretProvider string
	VaultAddr      string
	VaultToken     Secret
	VaultMount     string
	SealingKey     Secret

	DelegatedClientID     string
	DelegatedClientSecret Secret

	UpstreamBaseURL  string
	GraphBaseURL     string
	TokenURLTemplate string
	UpstreamTimeout  time.Duration
	UpstreamRetries  int

	CredentialTTL     time.Duration
	CacheTTL          time.Duration
	SyncMaxConcurrent int
	SyncStagger       time.Duration
	Intervals         Intervals
	SchedulerEnabled  bool

	RatePerSec       float64
	RateBurst        int
	GlobalRatePerSec float64
	GlobalRateBurst  int

	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration

	AnomalyThreshold      float64
	AnomalyBaselineWeeks  int
	StaleSignInDays       int
	AlertFailureThreshold int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:           Secret(envOrDefault("DATABASE_URL", "")),
		Port:                  envOrDefault("PORT", "3040"),
		MetricsPort:           envOrDefault("METRICS_PORT", "9092"),
		ListenHost:            envOrDefault("LISTEN_HOST", "127.0.0.1"),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		SecretProvider:        envOrDefault("SECRET_PROVIDER", "env"),
		VaultAddr:             envOrDefault("VAULT_ADDR", "http://127.0.0.1:8200"),
		VaultToken:            Secret(envOrDefault("VAULT_TOKEN", "")),
		VaultMount:            envOrDefault("VAULT_MOUNT", "secret"),
		SealingKey:            Secret(envOrDefault("SEALING_KEY", "")),
		DelegatedClientID:     envOrDefault("DELEGATED_CLIENT_ID", ""),
		DelegatedClientSecret: Secret(envOrDefault("DELEGATED_CLIENT_SECRET", "")),
		UpstreamBaseURL:       envOrDefault("UPSTREAM_BASE_URL", "https://management.azure.com"),
		GraphBaseURL:          envOrDefault("GRAPH_BASE_URL", "https://graph.microsoft.com"),
		TokenURLTemplate:      envOrDefault("TOKEN_URL_TEMPLATE", "https://login.microsoftonline.com/%s/oauth2/v2.0/token"),
		SchedulerEnabled:      envOrDefault("SCHEDULER_ENABLED", "true") == "true",
	}

	origins := envOrDefault("CORS_ORIGINS", "http://localhost:3002")
	cfg.CORSOrigins = strings.Split(origins, ",")

	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.loadTuning(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadTuning() error {
	var err error

	maxConns, err := intEnv("DB_MAX_CONNS", 21, 2, 200)
	if err != nil {
		return err
	}
	c.DBMaxConns = int32(maxConns)

	if c.SyncMaxConcurrent, err = intEnv("SYNC_MAX_CONCURRENT", 4, 1, 32); err != nil {
		return err
	}

	if c.UpstreamRetries, err = intEnv("UPSTREAM_RETRIES", 3, 1, 10); err != nil {
		return err
	}

	if c.RateBurst, err = intEnv("RATE_BURST", 10, 1, 1000); err != nil {
		return err
	}

	if c.GlobalRateBurst, err = intEnv("GLOBAL_RATE_BURST", 40, 1, 10000); err != nil {
		return err
	}

	if c.BreakerThreshold, err = intEnv("BREAKER_THRESHOLD", 5, 1, 100); err != nil {
		return err
	}

	if c.AnomalyBaselineWeeks, err = intEnv("ANOMALY_BASELINE_WEEKS", 4, 1, 52); err != nil {
		return err
	}

	if c.StaleSignInDays, err = intEnv("STALE_SIGNIN_DAYS", 90, 1, 3650); err != nil {
		return err
	}

	if c.AlertFailureThreshold, err = intEnv("ALERT_FAILURE_THRESHOLD", 3, 1, 100); err != nil {
		return err
	}

	if c.RatePerSec, err = floatEnv("RATE_PER_SEC", 5); err != nil {
		return err
	}

	if c.GlobalRatePerSec, err = floatEnv("GLOBAL_RATE_PER_SEC", 20); err != nil {
		return err
	}

	if c.AnomalyThreshold, err = floatEnv("ANOMALY_THRESHOLD_PERCENT", 20); err != nil {
		return err
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"UPSTREAM_TIMEOUT", "30s", &c.UpstreamTimeout},
		{"CREDENTIAL_TTL", "5m", &c.CredentialTTL},
		{"CACHE_TTL", "15m", &c.CacheTTL},
		{"SYNC_STAGGER", "5s", &c.SyncStagger},
		{"BREAKER_WINDOW", "10m", &c.BreakerWindow},
		{"BREAKER_COOLDOWN", "60s", &c.BreakerCooldown},
		{"INTERVAL_COST", "24h", &c.Intervals.Cost},
		{"INTERVAL_COMPLIANCE", "4h", &c.Intervals.Compliance},
		{"INTERVAL_RESOURCE", "1h", &c.Intervals.Resource},
		{"INTERVAL_IDENTITY", "24h", &c.Intervals.Identity},
	}

	for _, d := range durations {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", d.key, err)
		}
		*d.dst = v
	}

	return nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

// MetricsAddr returns the metrics listen address in host:port format.
func (c *Config) MetricsAddr() string {
	return c.ListenHost + ":" + c.MetricsPort
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func intEnv(key string, fallback, lo, hi int) (int, error) {
	v, err := strconv.Atoi(envOrDefault(key, strconv.Itoa(fallback)))
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, lo, hi)
	}

	return v, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v, err := strconv.ParseFloat(envOrDefault(key, strconv.FormatFloat(fallback, 'f', -1, 64)), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive number", key)
	}

	return v, nil
}
