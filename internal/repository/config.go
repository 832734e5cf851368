package repository

import (
	"context"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConfigRepository persists tiers, models, model configs and rate limits.
type ConfigRepository struct {
	db *storage.Database
}

func NewConfigRepository(db *storage.Database) *ConfigRepository {
	return &ConfigRepository{db: db}
}

func (r *ConfigRepository) ListTiers(ctx context.Context) ([]models.Tier, error) {
	var tiers []models.Tier
	err := r.db.DB.WithContext(ctx).Order("name ASC").Find(&tiers).Error
	return tiers, err
}

func (r *ConfigRepository) ListModels(ctx context.Context) ([]models.Model, error) {
	var ms []models.Model
	err := r.db.DB.WithContext(ctx).Order("name ASC").Find(&ms).Error
	return ms, err
}

func (r *ConfigRepository) ListModelConfigs(ctx context.Context) ([]models.ModelConfig, error) {
	var cfgs []models.ModelConfig
	err := r.db.DB.WithContext(ctx).Find(&cfgs).Error
	return cfgs, err
}

func (r *ConfigRepository) ListRateLimits(ctx context.Context) ([]models.RateLimit, error) {
	var limits []models.RateLimit
	err := r.db.DB.WithContext(ctx).Find(&limits).Error
	return limits, err
}

// Inserts or updates a tier. Making a tier default clears the flag on every other
// tier in the same transaction.
func (r *ConfigRepository) SaveTier(ctx context.Context, tier *models.Tier) error {
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		isNew := tier.ID == uuid.Nil
		if isNew {
			tier.ID = uuid.New()
		}

		if tier.IsDefault {
			if err := tx.Model(&models.Tier{}).
				Where("id <> ? AND is_default = ?", tier.ID, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}

		if isNew {
			return tx.Create(tier).Error
		}
		return tx.Save(tier).Error
	})
}

// Deletes a tier. Tenants on it fall back to the default tier and its rate limits go with it.
func (r *ConfigRepository) DeleteTier(ctx context.Context, id uuid.UUID) error {
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.Tenant{}).
			Where("tier_id = ?", id).
			Update("tier_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("tier_id = ?", id).Delete(&models.RateLimit{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Tier{}).Error
	})
}

func (r *ConfigRepository) SaveModel(ctx context.Context, m *models.Model) error {
	if m.ID == uuid.Nil {
		return r.db.DB.WithContext(ctx).Create(m).Error
	}
	return r.db.DB.WithContext(ctx).Save(m).Error
}

// Deletes a model together with its config and rate limits. Usage records are kept.
func (r *ConfigRepository) DeleteModel(ctx context.Context, id uuid.UUID) error {
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("model_id = ?", id).Delete(&models.RateLimit{}).Error; err != nil {
			return err
		}
		if err := tx.Where("model_id = ?", id).Delete(&models.ModelConfig{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Model{}).Error
	})
}

// Upserts the config of a model, keyed by model id.
func (r *ConfigRepository) SaveModelConfig(ctx context.Context, cfg *models.ModelConfig) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "model_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"is_free", "is_enabled", "input_token_cost", "output_token_cost", "updated_at",
			}),
		}).
		Create(cfg).Error
}

func (r *ConfigRepository) DeleteModelConfig(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.ModelConfig{}).Error
}

// Upserts a rate limit, keyed by (model, tier).
func (r *ConfigRepository) SaveRateLimit(ctx context.Context, rl *models.RateLimit) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "model_id"}, {Name: "tier_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"requests_per_minute", "requests_per_day", "tokens_per_minute", "tokens_per_day", "updated_at",
			}),
		}).
		Create(rl).Error
}

func (r *ConfigRepository) DeleteRateLimit(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.RateLimit{}).Error
}
