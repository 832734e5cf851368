package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/llm-gateway/internal/configstore"
	"github.com/aman-churiwal/llm-gateway/internal/gateway"
	"github.com/aman-churiwal/llm-gateway/internal/ledger"
	"github.com/aman-churiwal/llm-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

var kindStatus = map[gateway.Kind]int{
	gateway.KindInvalidRequest:      http.StatusBadRequest,
	gateway.KindRateLimited:         http.StatusTooManyRequests,
	gateway.KindInsufficientBalance: http.StatusPaymentRequired,
	gateway.KindUpstreamError:       http.StatusBadGateway,
	gateway.KindUpstreamTimeout:     http.StatusGatewayTimeout,
	gateway.KindPersistenceError:    http.StatusInternalServerError,
}

// Writes err as a JSON error response and aborts the chain.
func respondError(c *gin.Context, err error) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		respondGatewayError(c, gwErr)
		return
	}

	status := http.StatusInternalServerError
	message := "Internal Server Error"
	switch {
	case errors.Is(err, configstore.ErrNotFound),
		errors.Is(err, service.ErrNotFound),
		errors.Is(err, ledger.ErrTenantNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, configstore.ErrForbidden),
		errors.Is(err, service.ErrForbidden):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, configstore.ErrInvalidConfig),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidAmount):
		status, message = http.StatusBadRequest, err.Error()
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func respondGatewayError(c *gin.Context, err *gateway.Error) {
	status, ok := kindStatus[err.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if err.Kind == gateway.KindInvalidRequest && errors.Is(err, configstore.ErrNotFound) {
		status = http.StatusNotFound
	}

	body := gin.H{
		"error": err.Message,
		"kind":  string(err.Kind),
	}
	if err.Kind == gateway.KindRateLimited {
		retryAfter := int64(math.Ceil(err.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		body["limit_kind"] = string(err.LimitKind)
		body["retry_after"] = retryAfter
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}

	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": string(gateway.KindInvalidRequest)})
}
