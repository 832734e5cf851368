package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Crediter is implemented by *ledger.Service.
type Crediter interface {
	Credit(ctx context.Context, tenantID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

// TokenIssuer is implemented by *service.AuthService.
type TokenIssuer interface {
	IssueToken(tenant *models.Tenant, ttl time.Duration) (string, time.Time, error)
}

type TenantHandler struct {
	tenants *service.TenantService
	ledger  Crediter
	tokens  TokenIssuer
}

func NewTenantHandler(tenants *service.TenantService, ledger Crediter, tokens TokenIssuer) *TenantHandler {
	return &TenantHandler{
		tenants: tenants,
		ledger:  ledger,
		tokens:  tokens,
	}
}

// Handles GET /admin/users
func (h *TenantHandler) List(c *gin.Context) {
	limit, offset := parsePagination(c)

	tenants, total, err := h.tenants.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":  tenants,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Handles POST /admin/users
func (h *TenantHandler) Create(c *gin.Context) {
	var req service.CreateTenantInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	tenant, err := h.tenants.Create(c.Request.Context(), role(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tenant)
}

// Handles GET /admin/users/:id
func (h *TenantHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	tenant, err := h.tenants.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenant)
}

// Handles PUT /admin/users/:id
func (h *TenantHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.UpdateTenantInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	tenant, err := h.tenants.Update(c.Request.Context(), role(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenant)
}

// Handles POST /admin/users/:id/credit
func (h *TenantHandler) Credit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	balance, err := h.ledger.Credit(ctx, id, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	h.tenants.Invalidate(ctx, id)

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": id,
		"amount":    req.Amount.StringFixed(6),
		"balance":   balance.StringFixed(6),
	})
}

// Handles POST /admin/approve/:userId. The body is optional; approval is granted
// unless it says {"approved": false}.
func (h *TenantHandler) Approve(c *gin.Context) {
	id, ok := pathID(c, "userId")
	if !ok {
		return
	}

	approved := true
	if c.Request.ContentLength > 0 {
		var req struct {
			Approved *bool `json:"approved"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.Approved != nil {
			approved = *req.Approved
		}
	}

	if err := h.tenants.Approve(c.Request.Context(), id, approved); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":            id,
		"free_access_approved": approved,
	})
}

// Handles POST /admin/users/:id/token
func (h *TenantHandler) IssueToken(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req struct {
		TTLSeconds int64 `json:"ttl_seconds"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	tenant, err := h.tenants.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	token, expiresAt, err := h.tokens.IssueToken(tenant, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}
