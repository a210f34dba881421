package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/models"
)

// SyncHandler serves manual triggers and sync status.
type SyncHandler struct {
	svc domain.SyncService
	log *logrus.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(svc domain.SyncService, log *logrus.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, log: log}
}

type triggerRequest struct {
	TenantID *string `json:"tenant_id"`
}

// Trigger handles POST /api/v1/sync/:job_type. The tenant may be given in the
// body or as a query parameter; without one every active tenant is synced.
func (h *SyncHandler) Trigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	if req.TenantID == nil {
		if q, ok := c.GetQuery("tenant_id"); ok {
			req.TenantID = &q
		}
	}

	res, err := h.svc.TriggerSync(c.Request.Context(), callerFrom(c), models.JobType(c.Param("job_type")), req.TenantID)
	if err != nil {
		respondServiceError(c, h.log, err, "triggering sync")
		return
	}

	status := http.StatusAccepted
	if res.Outcome() == models.TriggerAlreadyRunning {
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"outcome":  res.Outcome(),
		"job_type": res.JobType,
		"tenants":  res.Tenants,
	})
}

// Runs handles GET /api/v1/sync/runs.
func (h *SyncHandler) Runs(c *gin.Context) {
	runs, err := h.svc.GetSyncStatus(c.Request.Context(), callerFrom(c), models.JobType(c.Query("job_type")), c.Query("tenant_id"))
	if err != nil {
		respondServiceError(c, h.log, err, "listing sync runs")
		return
	}

	if runs == nil {
		runs = []models.SyncJobRun{}
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}

// Health handles GET /api/v1/sync/health.
func (h *SyncHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetSyncHealth(c.Request.Context()))
}
