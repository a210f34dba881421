// Package middleware provides HTTP middleware for the tenantwatch API.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// maxBuckets is the maximum number of tracked IPs. The least recently
	// seen IP is evicted beyond it.
	maxBuckets = 100_000

	// bucketTTL bounds a bucket's lifetime. A bucket idle for this long has
	// refilled completely, so dropping it loses nothing.
	bucketTTL = 10 * time.Minute
)

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	rate    rate.Limit
	burst   int
}

// NewRateLimiter creates a RateLimiter with the given requests per second and burst size.
func NewRateLimiter(ratePerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](maxBuckets, nil, bucketTTL),
		rate:    rate.Limit(ratePerSec),
		burst:   burst,
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.buckets.Get(ip); ok {
		return l
	}

	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.buckets.Add(ip, l)

	return l
}

// Handler returns Gin middleware that applies rate limiting per client IP.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// c.ClientIP() ignores X-Forwarded-For because the router trusts no proxies.
		if !rl.limiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			respondError(c, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")

			return
		}

		c.Next()
	}
}
