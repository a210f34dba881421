package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/persistorai/tenantwatch/internal/metrics"
)

// knownMethods bounds the method label; anything else is reported as "OTHER".
var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true,
	http.MethodHead: true,
}

// PrometheusMiddleware records request duration and count by route pattern.
// Requests that match no route share the "unmatched" label, so probing
// random paths cannot grow the series count.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		method := c.Request.Method
		if !knownMethods[method] {
			method = "OTHER"
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.RequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
