// backend/internal/middleware/ratelimit.go
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/historyflow/backend/pkg/utils"
)

// RateLimiter tracks request counts per client IP over a fixed window.
// State is in-memory only; a restart clears all counters.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
}

type clientWindow struct {
	windowStart time.Time
	count       int
}

// NewRateLimiter allows limit requests per client per window and starts a
// background sweep of idle clients.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
	}

	go rl.sweep()

	return rl
}

// RateLimit rejects requests beyond the per-window limit with 429 and a
// Retry-After hint.
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		rl.mu.Lock()
		cw, ok := rl.clients[ip]
		if !ok || now.Sub(cw.windowStart) >= rl.window {
			rl.clients[ip] = &clientWindow{windowStart: now, count: 1}
			rl.mu.Unlock()
			c.Next()
			return
		}

		if cw.count >= rl.limit {
			retryAfter := rl.window - now.Sub(cw.windowStart)
			rl.mu.Unlock()

			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded", nil)
			c.Abort()
			return
		}

		cw.count++
		rl.mu.Unlock()

		c.Next()
	}
}

// sweep drops clients idle for several windows so the map stays bounded.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-5 * rl.window)
		rl.mu.Lock()
		for ip, cw := range rl.clients {
			if cw.windowStart.Before(cutoff) {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// SecurityHeaders sets the usual browser hardening headers on every
// response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}

// RequestID propagates the caller's X-Request-ID or assigns one, for log
// correlation across services.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateRandomID(8)
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
