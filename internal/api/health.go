// Package api provides HTTP handlers for tenantwatch.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/db"
	"github.com/persistorai/tenantwatch/internal/dbpool"
	"github.com/persistorai/tenantwatch/internal/models"
)

const (
	livenessDBTimeout  = 2 * time.Second
	readinessDBTimeout = 3 * time.Second
)

// Database is what the probes need from the pool.
type Database interface {
	HealthCheck(ctx context.Context) error
	AppliedVersion(ctx context.Context) (int64, error)
	Stat() dbpool.Stats
}

// SyncHealthReporter reports aggregate sync health.
type SyncHealthReporter interface {
	GetSyncHealth(ctx context.Context) models.SyncHealth
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	db        Database
	sync      SyncHealthReporter
	log       *logrus.Logger
	version   string
	schema    int64
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler. database and sync may be nil.
func NewHealthHandler(database Database, sync SyncHealthReporter, log *logrus.Logger, version string) *HealthHandler {
	return &HealthHandler{
		db:        database,
		sync:      sync,
		log:       log,
		version:   version,
		schema:    db.SchemaVersion(),
		startTime: time.Now(),
	}
}

type healthResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	Database      string              `json:"database"`
	SchemaVersion int64               `json:"schema_version"`
	Sync          models.HealthStatus `json:"sync"`
	UptimeSeconds float64             `json:"uptime_seconds"`
	Connections   *dbpool.Stats       `json:"connections,omitempty"`
}

// Liveness handles GET /api/v1/health. The process is alive if it can answer,
// so the status is always 200 and the other fields are informational.
func (h *HealthHandler) Liveness(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		Database:      "not_configured",
		SchemaVersion: h.schema,
		Sync:          models.HealthUnknown,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), livenessDBTimeout)
		defer cancel()

		resp.Database = "connected"
		if err := h.db.HealthCheck(ctx); err != nil {
			resp.Database = "disconnected"
		}

		st := h.db.Stat()
		resp.Connections = &st
	}

	if h.sync != nil {
		resp.Sync = h.sync.GetSyncHealth(c.Request.Context()).Status
	}

	c.JSON(http.StatusOK, resp)
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Readiness handles GET /api/v1/ready. Only the database and its schema
// gate readiness; sync health is reported but a failing upstream must not
// pull the instance out of rotation.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessDBTimeout)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
		"schema":   "ok",
		"sync":     string(models.HealthUnknown),
	}

	ready := true

	switch {
	case h.db == nil:
		checks["database"], checks["schema"] = "not_configured", "unknown"
		ready = false
	default:
		if err := h.db.HealthCheck(ctx); err != nil {
			h.log.WithError(err).Error("readiness: database unreachable")
			checks["database"], checks["schema"] = "error", "unknown"
			ready = false

			break
		}

		if err := h.checkSchema(ctx); err != nil {
			h.log.WithError(err).Error("readiness: schema check failed")
			checks["schema"] = "error"
			ready = false
		}
	}

	if h.sync != nil {
		checks["sync"] = string(h.sync.GetSyncHealth(ctx).Status)
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, readinessResponse{Status: "not_ready", Checks: checks})
		return
	}

	c.JSON(http.StatusOK, readinessResponse{Status: "ready", Checks: checks})
}

// checkSchema fails while the database is behind the migrations this build
// embeds, for example when another replica is still migrating.
func (h *HealthHandler) checkSchema(ctx context.Context) error {
	applied, err := h.db.AppliedVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading applied schema version: %w", err)
	}

	if applied < h.schema {
		return fmt.Errorf("database at schema %d, build expects %d", applied, h.schema)
	}

	return nil
}
