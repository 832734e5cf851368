package middleware

import (
	"net/http"
	"strconv"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/metrics"
	"github.com/aman-churiwal/llm-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClientRateLimit caps requests per tenant, or per client IP before authentication.
// A nil limiter disables it. Limiter failures let the request through.
func ClientRateLimit(limiter ratelimit.Limiter, clk clock.Clock, log *zap.Logger) gin.HandlerFunc {
	if clk == nil {
		clk = clock.Real()
	}
	log = log.Named("http.ratelimit")
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if p, ok := GetPrincipal(c); ok {
			key = "tenant:" + p.Tenant.ID.String()
		}

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Warn("client rate limit check failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int64(decision.RetryAfter(clk.Now()).Seconds())
			metrics.ClientRateLimitedTotal.Inc()

			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"kind":        "rate_limited",
				"limit_kind":  "client_requests",
				"limit":       decision.Limit,
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
