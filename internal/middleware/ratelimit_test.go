package middleware_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/persistorai/tenantwatch/internal/middleware"
)

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	r := gin.New()
	r.Use(middleware.NewRateLimiter(0.001, 2).Handler())
	r.GET("/test", okHandler)

	for i := range 3 {
		w := serve(r, "1.2.3.4:1234", "")

		if i < 2 && w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if i == 2 {
			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("request %d: expected 429, got %d", i, w.Code)
			}
			if w.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After header")
			}
		}
	}
}

func TestRateLimiter_IndependentBuckets(t *testing.T) {
	r := gin.New()
	r.Use(middleware.NewRateLimiter(0.001, 1).Handler())
	r.GET("/test", okHandler)

	serve(r, "1.1.1.1:1000", "")

	if w := serve(r, "2.2.2.2:1000", ""); w.Code != http.StatusOK {
		t.Fatalf("different IP should not be rate limited, got %d", w.Code)
	}
}
