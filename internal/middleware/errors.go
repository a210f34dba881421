package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/persistorai/tenantwatch/internal/httputil"
	"github.com/persistorai/tenantwatch/internal/metrics"
)

// Error codes written by middleware before a handler runs.
const (
	codeUnauthorized   = "unauthorized"
	codeRateLimited    = "rate_limited"
	codeInvalidRequest = "invalid_request"
)

// respondError aborts with the shared error body and counts the rejection.
func respondError(c *gin.Context, code int, errCode, message string) {
	metrics.ErrorsTotal.WithLabelValues("http_" + errCode).Inc()
	httputil.RespondError(c, code, errCode, message)
}
