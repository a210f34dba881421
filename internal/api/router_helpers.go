package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/middleware"
	"github.com/persistorai/tenantwatch/internal/models"
)

// callerFrom returns the authenticated caller. Handlers behind the auth
// middleware always have one; elsewhere it is the zero Caller, which may
// see nothing.
func callerFrom(c *gin.Context) authz.Caller {
	return authz.CallerFrom(c.Request.Context())
}

// ginLogger writes one access line per request. Probe traffic drops to debug
// and the level otherwise follows the status class.
func ginLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		entry := log.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"route":       route,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"client":      c.ClientIP(),
			"request_id":  c.GetString(middleware.RequestIDKey),
		})
		if cid := c.GetString(middleware.CallerIDKey); cid != "" {
			entry = entry.WithField("caller_id", cid)
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		case route == "/api/v1/health" || route == "/api/v1/ready":
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}

// Deeper pages should narrow the query instead.
const maxPaginationOffset = 100000

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}

	return v
}

func parseOffset(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}

	if v > maxPaginationOffset {
		return maxPaginationOffset
	}

	return v
}

// parsePage reads limit and offset query parameters.
func parsePage(c *gin.Context) models.Page {
	return models.Page{
		Limit:  parseInt(c.Query("limit"), 0),
		Offset: parseOffset(c.Query("offset")),
	}.Normalize()
}

// parseTimeParam reads an optional RFC3339 query parameter. On a malformed
// value it writes a 400 and returns false.
func parseTimeParam(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid "+name+" format, use RFC3339")
		return nil, false
	}

	return &t, true
}

func parseSince(c *gin.Context) (*time.Time, bool) { return parseTimeParam(c, "since") }
