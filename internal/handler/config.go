package handler

import (
	"fmt"
	"net/http"

	"github.com/aman-churiwal/llm-gateway/internal/configstore"
	"github.com/aman-churiwal/llm-gateway/internal/middleware"
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handles the admin catalog: tiers, models, model configs and rate limits.
// Role checks are left to the config store.
type ConfigHandler struct {
	store *configstore.Store
}

func NewConfigHandler(store *configstore.Store) *ConfigHandler {
	return &ConfigHandler{store: store}
}

func (h *ConfigHandler) ListTiers(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.ListTiers())
}

func (h *ConfigHandler) CreateTier(c *gin.Context) {
	var tier models.Tier
	if err := c.ShouldBindJSON(&tier); err != nil {
		badRequest(c, err.Error())
		return
	}
	tier.ID = uuid.Nil

	saved, err := h.store.UpsertTier(c.Request.Context(), role(c), tier)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *ConfigHandler) UpdateTier(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var tier models.Tier
	if err := c.ShouldBindJSON(&tier); err != nil {
		badRequest(c, err.Error())
		return
	}
	tier.ID = id

	saved, err := h.store.UpsertTier(c.Request.Context(), role(c), tier)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// Tenants on a deleted tier fall back to the default tier.
func (h *ConfigHandler) DeleteTier(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteTier(c.Request.Context(), role(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tier deleted successfully"})
}

func (h *ConfigHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.ListModels())
}

func (h *ConfigHandler) CreateModel(c *gin.Context) {
	var m models.Model
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err.Error())
		return
	}
	m.ID = uuid.Nil

	saved, err := h.store.UpsertModel(c.Request.Context(), role(c), m)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *ConfigHandler) UpdateModel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var m models.Model
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err.Error())
		return
	}
	m.ID = id

	saved, err := h.store.UpsertModel(c.Request.Context(), role(c), m)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *ConfigHandler) DeleteModel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteModel(c.Request.Context(), role(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Model deleted successfully"})
}

func (h *ConfigHandler) ListModelConfigs(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.ListModelConfigs())
}

// Creates or replaces the config of body.model_id
func (h *ConfigHandler) CreateModelConfig(c *gin.Context) {
	var cfg models.ModelConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err.Error())
		return
	}

	saved, err := h.store.UpsertModelConfig(c.Request.Context(), role(c), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *ConfigHandler) UpdateModelConfig(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var cfg models.ModelConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err.Error())
		return
	}

	var existing *models.ModelConfig
	for _, mc := range h.store.ListModelConfigs() {
		if mc.ID == id {
			existing = &mc
			break
		}
	}
	if existing == nil {
		respondError(c, fmt.Errorf("model config %s: %w", id, configstore.ErrNotFound))
		return
	}
	cfg.ModelID = existing.ModelID

	saved, err := h.store.UpsertModelConfig(c.Request.Context(), role(c), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *ConfigHandler) DeleteModelConfig(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteModelConfig(c.Request.Context(), role(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Model config deleted successfully"})
}

func (h *ConfigHandler) ListRateLimits(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.ListRateLimits())
}

// Creates or replaces the limits of (body.model_id, body.tier_id)
func (h *ConfigHandler) CreateRateLimit(c *gin.Context) {
	var rl models.RateLimit
	if err := c.ShouldBindJSON(&rl); err != nil {
		badRequest(c, err.Error())
		return
	}

	saved, err := h.store.UpsertRateLimit(c.Request.Context(), role(c), rl)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *ConfigHandler) UpdateRateLimit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var rl models.RateLimit
	if err := c.ShouldBindJSON(&rl); err != nil {
		badRequest(c, err.Error())
		return
	}

	var existing *models.RateLimit
	for _, l := range h.store.ListRateLimits() {
		if l.ID == id {
			existing = &l
			break
		}
	}
	if existing == nil {
		respondError(c, fmt.Errorf("rate limit %s: %w", id, configstore.ErrNotFound))
		return
	}
	rl.ModelID, rl.TierID = existing.ModelID, existing.TierID

	saved, err := h.store.UpsertRateLimit(c.Request.Context(), role(c), rl)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *ConfigHandler) DeleteRateLimit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteRateLimit(c.Request.Context(), role(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rate limit deleted successfully"})
}

func role(c *gin.Context) string {
	if p, ok := middleware.GetPrincipal(c); ok {
		return p.Role()
	}
	return ""
}

func pathID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		badRequest(c, fmt.Sprintf("Invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
}
