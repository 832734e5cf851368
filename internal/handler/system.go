package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/llm-gateway/internal/healthcheck"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	serviceName = "llm-gateway"
	version     = "1.0.0"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// UpstreamStatus is implemented by *upstream.Client.
type UpstreamStatus interface {
	CircuitBreakerMetrics() []circuitbreaker.Metrics
	ResetCircuitBreakers()
	GetHealthStatus() map[string]*healthcheck.Status
	OverallHealth() healthcheck.HealthStatus
}

// Handles system-related endpoints
type SystemHandler struct {
	db        Pinger
	redis     *storage.RedisClient
	upstream  UpstreamStatus
	startedAt time.Time
	log       *zap.Logger
}

func NewSystemHandler(db Pinger, redis *storage.RedisClient, upstream UpstreamStatus, log *zap.Logger) *SystemHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SystemHandler{
		db:        db,
		redis:     redis,
		upstream:  upstream,
		startedAt: time.Now(),
		log:       log.Named("health"),
	}
}

// Handles GET /health. The database is required; redis only counts when configured.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealthy := true
	if err := h.db.Ping(ctx); err != nil {
		dbHealthy = false
		h.log.Warn("database health check failed", zap.Error(err))
	}

	checks := gin.H{"database": dbHealthy}

	redisHealthy := true
	if h.redis.Enabled() {
		if err := h.redis.Ping(ctx); err != nil {
			redisHealthy = false
			h.log.Warn("redis health check failed", zap.Error(err))
		}
		checks["redis"] = redisHealthy
	}

	upstreamHealth := healthcheck.Healthy
	if h.upstream != nil {
		upstreamHealth = h.upstream.OverallHealth()
		checks["upstream"] = upstreamHealth
	}

	status := "healthy"
	statusCode := http.StatusOK
	switch {
	case !dbHealthy:
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case !redisHealthy || upstreamHealth != healthcheck.Healthy:
		status = "degraded"
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   serviceName,
		"version":   version,
		"uptime":    time.Since(h.startedAt).Seconds(),
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]interface{})

	for _, m := range h.upstream.CircuitBreakerMetrics() {
		statuses[m.Name] = gin.H{
			"state":             m.State.String(),
			"failure_count":     m.FailureCount,
			"success_count":     m.SuccessCount,
			"last_failure_time": m.LastFailureTime,
			"last_state_change": m.LastStateChange,
		}
	}

	c.JSON(http.StatusOK, statuses)
}

// Manually closes every circuit breaker
func (h *SystemHandler) ResetCircuitBreakers(c *gin.Context) {
	h.upstream.ResetCircuitBreakers()
	h.log.Info("circuit breakers reset")

	c.JSON(http.StatusOK, gin.H{"message": "Circuit breakers reset successfully"})
}

// Returns the active health check status of each upstream target
func (h *SystemHandler) UpstreamHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"overall": h.upstream.OverallHealth(),
		"targets": h.upstream.GetHealthStatus(),
	})
}
