package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/domain"
)

// ReportHandler serves per-tenant summaries.
type ReportHandler struct {
	svc domain.ReportService
	log *logrus.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(svc domain.ReportService, log *logrus.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, log: log}
}

// CostSummary handles GET /api/v1/tenants/:id/cost-summary.
func (h *ReportHandler) CostSummary(c *gin.Context) {
	sum, err := h.svc.CostSummary(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, h.log, err, "building cost summary")
		return
	}

	c.JSON(http.StatusOK, sum)
}

// ComplianceSummary handles GET /api/v1/tenants/:id/compliance-summary.
func (h *ReportHandler) ComplianceSummary(c *gin.Context) {
	sum, err := h.svc.ComplianceSummary(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, h.log, err, "building compliance summary")
		return
	}

	c.JSON(http.StatusOK, sum)
}
