package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/authz"
	"github.com/persistorai/tenantwatch/internal/models"
)

// Rejections are held to at least this long so timing does not reveal
// whether a key exists.
const authTimingFloor = 50 * time.Millisecond

// CallerIDKey is the gin context key holding the authenticated key id.
const CallerIDKey = "caller_id"

// PrincipalLookup resolves an API key into its principal and tenant grants.
type PrincipalLookup interface {
	GetPrincipalByAPIKey(ctx context.Context, apiKey string) (*models.Principal, error)
}

// Authenticate resolves the bearer key into an authz.Caller stored on the
// request context. Failed lookups are reported to guard when it is non-nil.
func Authenticate(lookup PrincipalLookup, guard *BruteForceGuard, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		apiKey := ExtractBearerToken(c)
		if apiKey == "" {
			reject(c, start, "missing or invalid authorization header")
			return
		}

		principal, err := lookup.GetPrincipalByAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			log.WithFields(logrus.Fields{
				"client_ip":  c.ClientIP(),
				"path":       c.FullPath(),
				"request_id": c.GetString(RequestIDKey),
				"key_prefix": keyPrefix(apiKey),
			}).WithError(err).Warn("authentication failed")

			if guard != nil {
				guard.RecordFailure(apiKey)
			}

			reject(c, start, "invalid api key")
			return
		}

		if guard != nil {
			guard.ResetKey(apiKey)
		}

		caller := authz.FromPrincipal(*principal)
		c.Set(CallerIDKey, caller.ID)
		c.Request = c.Request.WithContext(authz.WithCaller(c.Request.Context(), caller))

		c.Next()
	}
}

func reject(c *gin.Context, start time.Time, msg string) {
	if wait := authTimingFloor - time.Since(start); wait > 0 {
		time.Sleep(wait)
	}

	respondError(c, http.StatusUnauthorized, codeUnauthorized, msg)
}

// ExtractBearerToken returns the credentials of a Bearer Authorization
// header. The scheme match ignores case.
func ExtractBearerToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}

// keyPrefix keeps enough of a key to correlate log lines without leaking it.
func keyPrefix(key string) string {
	if len(key) <= 4 {
		return key
	}

	return key[:4] + "..."
}
