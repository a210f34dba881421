package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/httputil"
)

// AlertHandler serves alert endpoints.
type AlertHandler struct {
	svc domain.AlertService
	log *logrus.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(svc domain.AlertService, log *logrus.Logger) *AlertHandler {
	return &AlertHandler{svc: svc, log: log}
}

// List handles GET /api/v1/alerts. Resolved alerts are included only with
// include_resolved=true.
func (h *AlertHandler) List(c *gin.Context) {
	includeResolved, _ := strconv.ParseBool(c.Query("include_resolved"))

	items, hasMore, err := h.svc.ListAlerts(c.Request.Context(), callerFrom(c), includeResolved, parsePage(c))
	if err != nil {
		respondServiceError(c, h.log, err, "listing alerts")
		return
	}

	httputil.RespondList(c, items, hasMore)
}

// Resolve handles POST /api/v1/alerts/:id/resolve.
func (h *AlertHandler) Resolve(c *gin.Context) {
	a, err := h.svc.ResolveAlert(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, h.log, err, "resolving alert")
		return
	}

	c.JSON(http.StatusOK, a)
}
