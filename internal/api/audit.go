package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/domain"
	"github.com/persistorai/tenantwatch/internal/httputil"
	"github.com/persistorai/tenantwatch/internal/models"
)

const defaultAuditRetentionDays = 90

// AuditHandler serves the operator action log.
type AuditHandler struct {
	svc domain.AuditService
	log *logrus.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(svc domain.AuditService, log *logrus.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, log: log}
}

// Query handles GET /api/v1/audit. Filters: action, actor, entity_type,
// entity_id, since, until, limit, offset.
func (h *AuditHandler) Query(c *gin.Context) {
	since, ok := parseSince(c)
	if !ok {
		return
	}

	until, ok := parseTimeParam(c, "until")
	if !ok {
		return
	}

	opts := models.AuditQueryOpts{
		Action:     c.Query("action"),
		Actor:      c.Query("actor"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Since:      since,
		Until:      until,
		Limit:      parseInt(c.Query("limit"), 50),
		Offset:     parseOffset(c.Query("offset")),
	}

	if err := opts.Validate(); err != nil {
		respondServiceError(c, h.log, err, "validating audit query")
		return
	}

	entries, hasMore, err := h.svc.QueryAudit(c.Request.Context(), callerFrom(c), opts)
	if err != nil {
		respondServiceError(c, h.log, err, "querying audit log")
		return
	}

	httputil.RespondList(c, entries, hasMore)
}

// Purge handles DELETE /api/v1/audit?retention_days=N. The log spans every
// tenant, so only a wildcard admin may trim it.
func (h *AuditHandler) Purge(c *gin.Context) {
	caller := callerFrom(c)
	if caller.Role != models.RoleAdmin || !authz.AuthorizedTenants(caller).All {
		respondError(c, http.StatusForbidden, ErrCodeForbidden, "audit purge requires an all-tenants admin key")
		return
	}

	days := defaultAuditRetentionDays
	if raw, set := c.GetQuery("retention_days"); set {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "retention_days must be a positive integer")
			return
		}
		days = v
	}

	deleted, err := h.svc.PurgeOldEntries(c.Request.Context(), days)
	if err != nil {
		respondServiceError(c, h.log, err, "purging audit log")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "retention_days": days})
}
