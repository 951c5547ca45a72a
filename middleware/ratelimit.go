package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size. Stale entries are swept every
// five minutes until ctx is done.
func RateLimit(ctx context.Context, r rate.Limit, b int) gin.HandlerFunc {
	limiters := &sync.Map{}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-10 * time.Minute)
				limiters.Range(func(k, v interface{}) bool {
					il := v.(*ipLimiter)
					il.mu.Lock()
					stale := il.lastSeen.Before(cutoff)
					il.mu.Unlock()
					if stale {
						limiters.Delete(k)
					}
					return true
				})
			}
		}
	}()

	getLimiter := func(ip string) *rate.Limiter {
		v, _ := limiters.LoadOrStore(ip, &ipLimiter{limiter: rate.NewLimiter(r, b)})
		il := v.(*ipLimiter)
		il.mu.Lock()
		il.lastSeen = time.Now()
		il.mu.Unlock()
		return il.limiter
	}

	return func(c *gin.Context) {
		if !getLimiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
