package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RateLimit caps usage of one model for one tier. A value <= 0 means unlimited.
type RateLimit struct {
	ID                uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ModelID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_rate_limits_model_tier,priority:1" json:"model_id"`
	TierID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_rate_limits_model_tier,priority:2" json:"tier_id"`
	RequestsPerMinute int64     `gorm:"not null;default:0" json:"requests_per_minute"`
	RequestsPerDay    int64     `gorm:"not null;default:0" json:"requests_per_day"`
	TokensPerMinute   int64     `gorm:"not null;default:0" json:"tokens_per_minute"`
	TokensPerDay      int64     `gorm:"not null;default:0" json:"tokens_per_day"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r *RateLimit) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (RateLimit) TableName() string {
	return "rate_limits"
}
