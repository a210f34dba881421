package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// RequestIDKey is the gin context key for the request ID.
	RequestIDKey = "request_id"

	// RequestIDHeader is the HTTP header used to propagate the request ID.
	RequestIDHeader = "X-Request-ID"
)

// RequestID tags every request with an id that is echoed in the response
// header and in error bodies. A client-supplied X-Request-ID is reused only
// when it is a canonical UUID; anything else is replaced.
func RequestID(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := clientRequestID(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		if raw := c.GetHeader(RequestIDHeader); raw != "" && raw != id {
			log.WithFields(logrus.Fields{
				"request_id":        id,
				"client_request_id": raw,
			}).Debug("replaced malformed client request id")
		}

		c.Next()
	}
}

func clientRequestID(raw string) string {
	if len(raw) != 36 {
		return ""
	}

	parsed, err := uuid.Parse(raw)
	if err != nil {
		return ""
	}

	return parsed.String()
}
