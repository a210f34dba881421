package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/httputil"
	"github.com/persistorai/tenantwatch/internal/models"
)

// AnomalyHandler serves cost anomaly endpoints.
type AnomalyHandler struct {
	svc domain.AnomalyService
	log *logrus.Logger
}

// NewAnomalyHandler creates an AnomalyHandler.
func NewAnomalyHandler(svc domain.AnomalyService, log *logrus.Logger) *AnomalyHandler {
	return &AnomalyHandler{svc: svc, log: log}
}

// List handles GET /api/v1/anomalies.
func (h *AnomalyHandler) List(c *gin.Context) {
	since, ok := parseSince(c)
	if !ok {
		return
	}

	filter := models.AnomalyFilter{
		TenantID: c.Query("tenant_id"),
		Status:   models.AnomalyStatus(c.Query("status")),
		Since:    since,
	}

	items, hasMore, err := h.svc.ListAnomalies(c.Request.Context(), callerFrom(c), filter, parsePage(c))
	if err != nil {
		respondServiceError(c, h.log, err, "listing anomalies")
		return
	}

	httputil.RespondList(c, items, hasMore)
}

type acknowledgeRequest struct {
	Actor string `json:"actor" binding:"omitempty,max=255"`
}

// Acknowledge handles POST /api/v1/anomalies/:id/acknowledge. The actor
// defaults to the API key's name.
func (h *AnomalyHandler) Acknowledge(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	caller := callerFrom(c)
	if req.Actor == "" {
		req.Actor = caller.Name
	}

	a, err := h.svc.AcknowledgeAnomaly(c.Request.Context(), caller, c.Param("id"), req.Actor)
	if err != nil {
		respondServiceError(c, h.log, err, "acknowledging anomaly")
		return
	}

	c.JSON(http.StatusOK, a)
}
