package middlewares

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/httpx"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/ratelimit"
)

type RateLimits struct {
	PerIP   int
	PerUser int
}

// RateLimit limits authenticated callers by subject and anonymous callers by
// client IP. It must run after authentication so the subject is known.
func RateLimit(l *ratelimit.Limiter, limits RateLimits) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, limit := "ip:"+c.ClientIP(), limits.PerIP
		if sub := c.GetString(KeySub); sub != "" {
			key, limit = "user:"+sub, limits.PerUser
		}
		d, err := l.Allow(c.Request.Context(), key, limit)
		if err != nil {
			log.Printf("[ratelimit] %v (allowing)", err)
		}
		if d.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}
		if !d.Allowed {
			c.Header("Retry-After", httpx.RetryAfter(d.RetryAfter))
			httpx.Abort(c, http.StatusTooManyRequests, httpx.CodeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
