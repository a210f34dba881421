// Command tenantwatch runs the telemetry sync service and its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/persistorai/tenantwatch/internal/anomaly"
	"github.com/persistorai/tenantwatch/internal/api"
	"github.com/persistorai/tenantwatch/internal/cache"
	"github.com/persistorai/tenantwatch/internal/config"
	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/db"
	"github.com/persistorai/tenantwatch/internal/db/migrations"
	"github.com/persistorai/tenantwatch/internal/dbpool"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/resilience"
	"github.com/persistorai/tenantwatch/internal/secrets"
	"github.com/persistorai/tenantwatch/internal/service"
	"github.com/persistorai/tenantwatch/internal/store"
	"github.com/persistorai/tenantwatch/internal/syncer"
	"github.com/persistorai/tenantwatch/internal/upstream"
	"github.com/persistorai/tenantwatch/internal/ws"
)

const (
	shutdownTimeout = 30 * time.Second
	cacheSize       = 4096
	auditQueueSize  = 1000
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := run(log); err != nil {
		log.WithError(err).Fatal("tenantwatch exited")
	}
}

func run(log *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value(), dbpool.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	prometheus.MustRegister(pool.Collectors()...)

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		return err
	}

	base := store.Base{Pool: pool, Log: log}
	tenants := store.NewTenantStore(base)
	runs := store.NewRunStore(base)
	snapshots := store.NewSnapshotStore(base)
	anomalies := store.NewAnomalyStore(base)
	alerts := store.NewAlertStore(base)
	audits := store.NewAuditStore(base)
	apiKeys := store.NewAPIKeyStore(base)

	resolver, err := newResolver(cfg, tenants, log)
	if err != nil {
		return err
	}

	limiter := resilience.NewLimiter(ctx, resilience.LimiterConfig{
		TenantRate:  cfg.RatePerSec,
		TenantBurst: cfg.RateBurst,
		GlobalRate:  cfg.GlobalRatePerSec,
		GlobalBurst: cfg.GlobalRateBurst,
	})
	breakers := resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		FailureWindow:    cfg.BreakerWindow,
		Cooldown:         cfg.BreakerCooldown,
		Ignore:           upstream.IsClientError,
	})
	upstreamClient := upstream.NewClient(upstream.Options{
		TokenURLTemplate: cfg.TokenURLTemplate,
		Timeout:          cfg.UpstreamTimeout,
		MaxAttempts:      cfg.UpstreamRetries,
	}, limiter, breakers, log)

	aggregates := cache.New(cacheSize, cfg.CacheTTL)

	deps := syncer.Deps{
		Credentials: resolver,
		Upstream:    upstreamClient,
		Store:       snapshots,
		Endpoints:   syncer.Endpoints{Management: cfg.UpstreamBaseURL, Graph: cfg.GraphBaseURL},
		Log:         log,
	}
	adapters := []syncer.Adapter{
		syncer.NewCostAdapter(deps, cfg.Intervals.Cost),
		syncer.NewComplianceAdapter(deps, cfg.Intervals.Compliance, anomaly.NewClassifier(nil)),
		syncer.NewResourceAdapter(deps, cfg.Intervals.Resource, nil),
		syncer.NewIdentityAdapter(deps, cfg.Intervals.Identity, cfg.StaleSignInDays),
	}

	hub := ws.NewHub(log)
	publishedAlerts := service.NewPublishingAlerts(alerts, hub)

	orch := syncer.NewOrchestrator(adapters, runs, tenants, aggregates, publishedAlerts, syncer.Options{
		MaxConcurrent: cfg.SyncMaxConcurrent,
		Stagger:       cfg.SyncStagger,
		Intervals: map[models.JobType]time.Duration{
			models.JobCost:       cfg.Intervals.Cost,
			models.JobCompliance: cfg.Intervals.Compliance,
			models.JobResource:   cfg.Intervals.Resource,
			models.JobIdentity:   cfg.Intervals.Identity,
		},
		FailureThreshold: cfg.AlertFailureThreshold,
		DisableSchedule:  !cfg.SchedulerEnabled,
	}, log)
	orch.SetPublisher(hub)

	auditWorker := service.NewAuditWorker(audits, log, auditQueueSize)

	anomalySvc := service.NewAnomalyService(anomalies, snapshots, publishedAlerts, anomaly.NewDetector(anomaly.Config{
		ThresholdPercent: cfg.AnomalyThreshold,
		BaselineWeeks:    cfg.AnomalyBaselineWeeks,
	}), auditWorker, log)
	orch.OnSuccess(models.JobCost, anomalySvc.DetectForTenant)

	bridge := db.NewTenantChangeBridge(log, pool,
		resolver.Invalidate,
		aggregates.InvalidateTenant,
		upstreamClient.ForgetTenant,
		breakers.Reset,
	)
	if err := bridge.Start(ctx); err != nil {
		return err
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	handler := api.NewRouter(&api.RouterDeps{
		Log:         log,
		Database:    pool,
		Sync:        service.NewSyncService(orch, runs, auditWorker, log),
		Anomalies:   anomalySvc,
		Reports:     service.NewReportService(snapshots, aggregates, log),
		Alerts:      service.NewAlertService(publishedAlerts, auditWorker, log),
		Audit:       service.NewAuditService(audits, log),
		Fleet:       tenants,
		Breakers:    breakers,
		Schedule:    orch,
		Principals:  apiKeys,
		Events:      hub,
		CORSOrigins: cfg.CORSOrigins,
		Version:     config.Version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		auditWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return serve(srv, log) })
	g.Go(func() error { return serve(metricsSrv, log) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		// Stop scheduling before the listener closes so no new run starts mid-drain.
		orch.Stop()

		// Hijacked stream connections are not closed by srv.Shutdown.
		hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var result *multierror.Error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}

		return result.ErrorOrNil()
	})

	log.WithFields(logrus.Fields{
		"addr":         cfg.Addr(),
		"metrics_addr": cfg.MetricsAddr(),
		"version":      config.Version,
		"schema":       db.SchemaVersion(),
	}).Info("tenantwatch started")

	return g.Wait()
}

func newResolver(cfg *config.Config, tenants credential.TenantLookup, log *logrus.Logger) (*credential.Resolver, error) {
	var secretStore secrets.Store
	switch cfg.SecretProvider {
	case "vault":
		secretStore = secrets.NewVaultStore(cfg.VaultAddr, cfg.VaultMount, cfg.VaultToken.Value())
	default:
		secretStore = secrets.NewEnvStore()
	}

	sealer, err := secrets.NewSealer(cfg.SealingKey.Value())
	if err != nil {
		return nil, fmt.Errorf("creating sealer: %w", err)
	}

	return credential.NewResolver(tenants, cfg.CredentialTTL, log,
		credential.SecretStoreStrategy{Store: secretStore},
		credential.RegistrationStrategy{Sealer: sealer},
		credential.DelegatedStrategy{ClientID: cfg.DelegatedClientID, ClientSecret: cfg.DelegatedClientSecret},
	), nil
}

func serve(srv *http.Server, log *logrus.Logger) error {
	log.WithField("addr", srv.Addr).Info("listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving %s: %w", srv.Addr, err)
	}

	return nil
}
