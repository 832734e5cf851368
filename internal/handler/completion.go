package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/gateway"
	"github.com/aman-churiwal/llm-gateway/internal/middleware"
	"github.com/gin-gonic/gin"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// Completer runs completion calls. Implemented by *gateway.Dispatcher.
type Completer interface {
	Complete(ctx context.Context, req gateway.CompletionRequest) (*gateway.Result, error)
}

type CompletionHandler struct {
	gateway Completer
}

func NewCompletionHandler(g Completer) *CompletionHandler {
	return &CompletionHandler{gateway: g}
}

type completionRequest struct {
	Model     string `json:"model" binding:"required"`
	Prompt    string `json:"prompt"`
	MaxTokens int64  `json:"max_tokens"`
}

type completionUsage struct {
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	InputCost    string `json:"input_cost"`
	OutputCost   string `json:"output_cost"`
	TotalCost    string `json:"total_cost"`
}

type completionResponse struct {
	ID        string          `json:"id"`
	Model     string          `json:"model"`
	Content   string          `json:"content"`
	Usage     completionUsage `json:"usage"`
	CreatedAt time.Time       `json:"created_at"`
	Replayed  bool            `json:"replayed,omitempty"`
}

// Handles POST /v1/completions
func (h *CompletionHandler) Create(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	idemKey := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if len(idemKey) > maxIdempotencyKeyLen {
		badRequest(c, "Idempotency-Key is too long")
		return
	}

	tenant := principal.Tenant
	result, err := h.gateway.Complete(c.Request.Context(), gateway.CompletionRequest{
		TenantID:           tenant.ID,
		TierID:             tenant.TierID,
		FreeAccessApproved: tenant.FreeAccessApproved,
		Model:              req.Model,
		Prompt:             req.Prompt,
		MaxTokens:          req.MaxTokens,
		IdempotencyKey:     idemKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Replayed {
		c.Header(ReplayedHeader, "true")
	}

	rec := result.Record
	c.JSON(http.StatusOK, completionResponse{
		ID:      rec.ID.String(),
		Model:   result.Model.Name,
		Content: result.Content,
		Usage: completionUsage{
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
			InputCost:    rec.InputCost.StringFixed(6),
			OutputCost:   rec.OutputCost.StringFixed(6),
			TotalCost:    rec.TotalCost.StringFixed(6),
		},
		CreatedAt: rec.CreatedAt,
		Replayed:  result.Replayed,
	})
}
