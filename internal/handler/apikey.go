package handler

import (
	"net/http"

	"github.com/aman-churiwal/llm-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type APIKeyHandler struct {
	service *service.APIKeyService
}

func NewAPIKeyHandler(service *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// Handles POST /admin/keys
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req struct {
		TenantID uuid.UUID `json:"tenant_id" binding:"required"`
		Name     string    `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	key, apiKey, err := h.service.Create(c.Request.Context(), req.TenantID, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"api_key": apiKey,
		"message": "Save this key - it won't be shown again",
	})
}

// Handles GET /admin/keys, optionally filtered by ?tenant_id=
func (h *APIKeyHandler) List(c *gin.Context) {
	var tenantID *uuid.UUID
	if idStr := c.Query("tenant_id"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			badRequest(c, "Invalid tenant ID")
			return
		}
		tenantID = &id
	}

	keys, err := h.service.List(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

// Handles DELETE /admin/keys/:id. Keys are deactivated, not removed.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Revoke(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked successfully"})
}
