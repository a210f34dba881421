package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/middleware"
	"github.com/persistorai/tenantwatch/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log         *logrus.Logger
	Database    Database
	Sync        domain.SyncService
	Anomalies   domain.AnomalyService
	Reports     domain.ReportService
	Alerts      domain.AlertService
	Audit       domain.AuditService
	Fleet       FleetCounter
	Breakers    BreakerReporter
	Schedule    ScheduleReporter
	Principals  middleware.PrincipalLookup
	Events      *ws.Hub
	CORSOrigins []string
	Version     string
}

// Router-level limits.
const (
	maxBodySize = 1 << 20 // 1 MB
	rateLimit   = 50      // requests per second per IP
	rateBurst   = 100     // token bucket burst size
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader, "Retry-After"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.NewRateLimiter(rateLimit, rateBurst).Handler())
	r.Use(middleware.PrometheusMiddleware())
}

// registerRoutes sets up all API route handlers on the given router group.
func registerRoutes(api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Database, deps.Sync, log, deps.Version)
	syncH := NewSyncHandler(deps.Sync, log)
	anomalies := NewAnomalyHandler(deps.Anomalies, log)
	reports := NewReportHandler(deps.Reports, log)
	alerts := NewAlertHandler(deps.Alerts, log)
	audit := NewAuditHandler(deps.Audit, log)
	stats := NewStatsHandler(deps.Fleet, deps.Breakers, deps.Schedule, log)

	// Health and readiness are unauthenticated.
	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)

	// All other API routes require authentication.
	bfGuard := middleware.NewBruteForceGuard(log)
	api.Use(middleware.BruteForceMiddleware(bfGuard))
	api.Use(middleware.Authenticate(middleware.NewCachedPrincipalLookup(deps.Principals), bfGuard, log))

	// Sync.
	api.POST("/sync/:job_type", syncH.Trigger)
	api.GET("/sync/runs", syncH.Runs)
	api.GET("/sync/health", syncH.Health)

	// Anomalies.
	api.GET("/anomalies", anomalies.List)
	api.POST("/anomalies/:id/acknowledge", anomalies.Acknowledge)

	// Tenant summaries.
	api.GET("/tenants/:id/cost-summary", reports.CostSummary)
	api.GET("/tenants/:id/compliance-summary", reports.ComplianceSummary)

	// Alerts.
	api.GET("/alerts", alerts.List)
	api.POST("/alerts/:id/resolve", alerts.Resolve)

	// Audit.
	api.GET("/audit", audit.Query)
	api.DELETE("/audit", audit.Purge)

	// Stats.
	api.GET("/stats", stats.GetStats)

	// Event stream.
	if deps.Events != nil {
		api.GET("/events", eventsHandler(deps.Events, deps.Principals, deps.CORSOrigins, log))
	}
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(r, deps)
	registerRoutes(r.Group("/api/v1"), deps)

	return r
}
