package middleware

import (
	"strconv"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records request counts and latency per matched route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPLatencyMs.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	}
}
