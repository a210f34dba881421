package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	bruteForceMaxAttempts = 5
	bruteForceWindow      = 15 * time.Minute
	bruteForceLockout     = 5 * time.Minute
	bruteForceMaxRecords  = 10000
)

type failureRecord struct {
	attempts  int
	firstFail time.Time
	lockedAt  time.Time
}

// BruteForceGuard tracks authentication failures per key hash and locks out
// keys that fail too often within the tracking window. Records expire with
// the window; the oldest are evicted beyond bruteForceMaxRecords.
type BruteForceGuard struct {
	mu      sync.Mutex
	records *expirable.LRU[string, *failureRecord]
	log     *logrus.Logger
	now     func() time.Time
}

// NewBruteForceGuard creates a guard.
func NewBruteForceGuard(log *logrus.Logger) *BruteForceGuard {
	return &BruteForceGuard{
		records: expirable.NewLRU[string, *failureRecord](bruteForceMaxRecords, nil, bruteForceWindow),
		log:     log,
		now:     time.Now,
	}
}

// IsBlocked reports whether apiKey is currently locked out.
func (g *BruteForceGuard) IsBlocked(apiKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records.Peek(hashKey(apiKey))

	return ok && !rec.lockedAt.IsZero() && g.now().Sub(rec.lockedAt) < bruteForceLockout
}

// RecordFailure records a failed authentication attempt for apiKey.
func (g *BruteForceGuard) RecordFailure(apiKey string) {
	kh := hashKey(apiKey)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records.Peek(kh)
	if !ok || now.Sub(rec.firstFail) > bruteForceWindow {
		g.records.Add(kh, &failureRecord{attempts: 1, firstFail: now})
		return
	}

	rec.attempts++
	if rec.attempts >= bruteForceMaxAttempts && rec.lockedAt.IsZero() {
		rec.lockedAt = now
		g.log.WithField("key_hash", kh[:16]+"...").Warn("api key locked out after repeated auth failures")
	}
}

// ResetKey clears failure tracking for a key after a successful authentication.
func (g *BruteForceGuard) ResetKey(apiKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records.Remove(hashKey(apiKey))
}

// BruteForceMiddleware blocks requests that present a locked-out API key.
func BruteForceMiddleware(guard *BruteForceGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := ExtractBearerToken(c)
		if apiKey != "" && guard.IsBlocked(apiKey) {
			respondError(c, http.StatusTooManyRequests, codeRateLimited, "too many failed authentication attempts")
			return
		}

		c.Next()
	}
}
