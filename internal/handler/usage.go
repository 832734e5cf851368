package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/ledger"
	"github.com/aman-churiwal/llm-gateway/internal/middleware"
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
	"github.com/aman-churiwal/llm-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ModelResolver looks up catalog models by name or id.
type ModelResolver interface {
	GetModel(ref string) (models.Model, error)
}

// BalanceReader is implemented by *ledger.Service.
type BalanceReader interface {
	Balance(ctx context.Context, tenantID uuid.UUID) (ledger.Account, error)
}

type UsageHandler struct {
	usage   *service.UsageService
	models  ModelResolver
	balance BalanceReader
	clock   clock.Clock
}

func NewUsageHandler(usage *service.UsageService, models ModelResolver, balance BalanceReader, clk clock.Clock) *UsageHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &UsageHandler{
		usage:   usage,
		models:  models,
		balance: balance,
		clock:   clk,
	}
}

// Handles GET /v1/usage
func (h *UsageHandler) List(c *gin.Context) {
	h.list(c, false)
}

// Handles GET /admin/usage
func (h *UsageHandler) AdminList(c *gin.Context) {
	h.list(c, true)
}

// Handles GET /v1/usage/summary
func (h *UsageHandler) Summary(c *gin.Context) {
	h.summary(c, false)
}

// Handles GET /admin/usage/summary
func (h *UsageHandler) AdminSummary(c *gin.Context) {
	h.summary(c, true)
}

func (h *UsageHandler) list(c *gin.Context, admin bool) {
	filter, ok := h.filter(c, admin)
	if !ok {
		return
	}
	filter.Limit, filter.Offset = parsePagination(c)

	page, err := h.usage.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *UsageHandler) summary(c *gin.Context, admin bool) {
	filter, ok := h.filter(c, admin)
	if !ok {
		return
	}

	summary, err := h.usage.Summary(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":                filter.From,
		"to":                  filter.To,
		"total_requests":      summary.TotalRequests,
		"total_input_tokens":  summary.TotalInputTokens,
		"total_output_tokens": summary.TotalOutputTokens,
		"total_cost":          summary.TotalCost.StringFixed(6),
		"models":              summary.Models,
	})
}

// Handles GET /v1/quota/:model
func (h *UsageHandler) Quota(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	status, err := h.usage.Quota(principal.Tenant, c.Param("model"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// Handles GET /v1/balance
func (h *UsageHandler) Balance(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	acc, err := h.balance.Balance(c.Request.Context(), principal.Tenant.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": acc.TenantID,
		"balance":   acc.Balance.StringFixed(6),
		"held":      acc.Held.StringFixed(6),
		"available": acc.Available.StringFixed(6),
	})
}

// Builds the usage filter. Tenants only see their own records; admins may filter by
// tenant_id or see everything.
func (h *UsageHandler) filter(c *gin.Context, admin bool) (repository.UsageFilter, bool) {
	var f repository.UsageFilter

	from, to, err := parseTimeRange(c, h.clock.Now())
	if err != nil {
		badRequest(c, err.Error())
		return f, false
	}
	f.From, f.To = from, to

	if admin {
		if idStr := c.Query("tenant_id"); idStr != "" {
			id, err := uuid.Parse(idStr)
			if err != nil {
				badRequest(c, "Invalid tenant ID")
				return f, false
			}
			f.TenantID = &id
		}
	} else {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return f, false
		}
		id := principal.Tenant.ID
		f.TenantID = &id
	}

	if ref := c.Query("model"); ref != "" {
		m, err := h.models.GetModel(ref)
		if err != nil {
			respondError(c, err)
			return f, false
		}
		f.ModelID = &m.ID
	}

	return f, true
}

// Parses 'from' and 'to' query parameters
func parseTimeRange(c *gin.Context, now time.Time) (time.Time, time.Time, error) {
	// Default: last 24 hours
	to := now
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTime(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTime(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("'from' must be before 'to'")
	}

	return from.UTC(), to.UTC(), nil
}

// Accepts RFC3339 or a Unix timestamp
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	if timestamp, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		return time.Unix(timestamp, 0), nil
	}
	return time.Time{}, err
}

func parsePagination(c *gin.Context) (int, int) {
	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
