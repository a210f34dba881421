package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/metrics"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/resilience"
)

// FleetCounter counts fleet-wide rows.
type FleetCounter interface {
	FleetCounts(ctx context.Context) (models.FleetCounts, error)
}

// BreakerReporter exposes circuit breaker state.
type BreakerReporter interface {
	Stats() []resilience.BreakerStats
}

// ScheduleReporter exposes the next scheduled run per job type.
type ScheduleReporter interface {
	NextRuns() map[models.JobType]time.Time
}

// StatsHandler serves the fleet statistics endpoint.
type StatsHandler struct {
	counts   FleetCounter
	breakers BreakerReporter
	schedule ScheduleReporter
	log      *logrus.Logger
}

// NewStatsHandler creates a StatsHandler. breakers and schedule may be nil.
func NewStatsHandler(counts FleetCounter, breakers BreakerReporter, schedule ScheduleReporter, log *logrus.Logger) *StatsHandler {
	return &StatsHandler{counts: counts, breakers: breakers, schedule: schedule, log: log}
}

// statsResponse is the JSON payload returned by the stats endpoint.
type statsResponse struct {
	models.FleetCounts
	Breakers []resilience.BreakerStats    `json:"breakers"`
	NextRuns map[models.JobType]time.Time `json:"next_runs"`
}

// GetStats handles GET /api/v1/stats. The numbers span every tenant, so only
// an admin key with a wildcard grant may read them.
func (h *StatsHandler) GetStats(c *gin.Context) {
	caller := callerFrom(c)
	if caller.Role != models.RoleAdmin || !authz.AuthorizedTenants(caller).All {
		respondError(c, http.StatusForbidden, ErrCodeForbidden, "fleet stats require an all-tenants admin key")
		return
	}

	counts, err := h.counts.FleetCounts(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.log, err, "stats: counting fleet")
		return
	}

	resp := statsResponse{
		FleetCounts: counts,
		Breakers:    []resilience.BreakerStats{},
		NextRuns:    map[models.JobType]time.Time{},
	}

	if h.breakers != nil {
		if s := h.breakers.Stats(); s != nil {
			resp.Breakers = s
		}
	}

	if h.schedule != nil {
		resp.NextRuns = h.schedule.NextRuns()
	}

	metrics.ActiveTenants.Set(float64(counts.ActiveTenants))
	metrics.OpenAnomalies.Set(float64(counts.OpenAnomalies))
	metrics.OpenAlerts.Set(float64(counts.OpenAlerts))

	c.JSON(http.StatusOK, resp)
}
