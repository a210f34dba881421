// Package dbpool owns the PostgreSQL connection pool shared by every store
// and the tenant change listener.
package dbpool

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Options tunes the pool. Zero fields take the defaults below.
type Options struct {
	// MaxConns counts the connection the LISTEN bridge pins for its lifetime.
	MaxConns         int32
	MinConns         int32
	StatementTimeout time.Duration
	AppName          string
}

const (
	defaultMaxConns         = 21
	defaultMinConns         = 2
	defaultStatementTimeout = 30 * time.Second
	defaultAppName          = "tenantwatch"
)

func (o Options) withDefaults() Options {
	if o.MaxConns < 2 {
		o.MaxConns = defaultMaxConns
	}
	if o.MinConns <= 0 || o.MinConns > o.MaxConns {
		o.MinConns = min(defaultMinConns, o.MaxConns)
	}
	if o.StatementTimeout <= 0 {
		o.StatementTimeout = defaultStatementTimeout
	}
	if o.AppName == "" {
		o.AppName = defaultAppName
	}
	return o
}

// Pool wraps pgxpool.Pool. Stores reach the database only through the
// methods here, which keeps the query surface small enough to audit.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to databaseURL and verifies the server answers.
func NewPool(ctx context.Context, databaseURL string, opts Options) (*Pool, error) {
	opts = opts.withDefaults()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	cfg.ConnConfig.RuntimeParams["application_name"] = opts.AppName

	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging %s: %w", cfg.ConnConfig.Host, err)
	}

	return &Pool{pool: pool}, nil
}

// Acquire checks out a dedicated connection. The caller must Release it.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	return p.pool.Acquire(ctx)
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// BeginTx starts a transaction. Stores wrap it so the tenant setting is
// applied before any statement runs.
func (p *Pool) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) { //nolint:gocritic // mirrors pgxpool.Pool.
	return p.pool.BeginTx(ctx, opts)
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// HealthCheck round-trips a query, which Ping alone does not prove when a
// connection is already idle in the pool.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var one int
	if err := p.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check query: %w", err)
	}
	return nil
}

// AppliedVersion returns the newest migration goose has recorded, or 0 on a
// database that was never migrated.
func (p *Pool) AppliedVersion(ctx context.Context) (int64, error) {
	var v int64
	err := p.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(version_id), 0) FROM goose_db_version WHERE is_applied").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading goose version: %w", err)
	}
	return v, nil
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	Max      int32 `json:"max"`
}

// Stat reports current pool usage. Acquired near Max means sync runs are
// queueing for connections.
func (p *Pool) Stat() Stats {
	st := p.pool.Stat()

	return Stats{
		Total:    st.TotalConns(),
		Idle:     st.IdleConns(),
		Acquired: st.AcquiredConns(),
		Max:      st.MaxConns(),
	}
}

// Collectors exposes Stat as gauges sampled at scrape time.
func (p *Pool) Collectors() []prometheus.Collector {
	gauge := func(name, help string, read func(Stats) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tenantwatch_db_pool_" + name,
			Help: help,
		}, func() float64 { return float64(read(p.Stat())) })
	}

	return []prometheus.Collector{
		gauge("connections", "Open pool connections", func(s Stats) int32 { return s.Total }),
		gauge("idle_connections", "Idle pool connections", func(s Stats) int32 { return s.Idle }),
		gauge("acquired_connections", "Connections checked out of the pool", func(s Stats) int32 { return s.Acquired }),
		gauge("max_connections", "Configured pool size", func(s Stats) int32 { return s.Max }),
	}
}

// ConnString returns the DSN the pool was built from, for the migration handle.
func (p *Pool) ConnString() string {
	return p.pool.Config().ConnString()
}

func (p *Pool) Close() {
	p.pool.Close()
}
