package api

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/middleware"
	"github.com/persistorai/tenantwatch/internal/ws"
)

// eventsHandler upgrades GET /api/v1/events to a WebSocket stream of alert
// and sync run events for the caller's tenants.
func eventsHandler(hub *ws.Hub, validator ws.KeyValidator, corsOrigins []string, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := callerFrom(c)
		apiKey := middleware.ExtractBearerToken(c)

		// The server's write timeout would otherwise cut the stream.
		rc := http.NewResponseController(c.Writer)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			log.WithError(err).Debug("event stream: cannot clear write deadline")
		}

		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns:       corsOrigins,
			CompressionMode:      websocket.CompressionContextTakeover,
			CompressionThreshold: 128,
		})
		if err != nil {
			log.WithError(err).Warn("event stream accept failed")
			return
		}

		client := ws.NewClient(hub, conn, caller, validator, apiKey)
		hub.Register(client)

		ctx := c.Request.Context()
		go client.WritePump(ctx)
		client.ReadPump(ctx)
	}
}
