package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Pricing and availability of a model. Token costs are per 1000 tokens.
type ModelConfig struct {
	ID              uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	ModelID         uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"model_id"`
	IsFree          bool            `gorm:"not null;default:false" json:"is_free"`
	IsEnabled       bool            `gorm:"not null" json:"is_enabled"`
	InputTokenCost  decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"input_token_cost"`
	OutputTokenCost decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"output_token_cost"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (m *ModelConfig) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (ModelConfig) TableName() string {
	return "model_configs"
}
