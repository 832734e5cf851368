package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Tier groups tenants that share rate limits and a subscription price.
type Tier struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Name        string          `gorm:"uniqueIndex;not null" json:"name"`
	IsFree      bool            `gorm:"not null;default:false" json:"is_free"`
	IsDefault   bool            `gorm:"not null;default:false" json:"is_default"`
	Price       decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"price"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (t *Tier) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (Tier) TableName() string {
	return "tiers"
}
