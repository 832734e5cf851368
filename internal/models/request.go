package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Request is the usage record of one committed completion. Rows are append-only.
type Request struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:ux_requests_tenant_idem,priority:1" json:"tenant_id"`
	ModelID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"model_id"`
	IdempotencyKey *string         `gorm:"uniqueIndex:ux_requests_tenant_idem,priority:2" json:"idempotency_key,omitempty"`
	InputTokens    int64           `gorm:"not null" json:"input_tokens"`
	OutputTokens   int64           `gorm:"not null" json:"output_tokens"`
	InputCost      decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"input_cost"`
	OutputCost     decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"output_cost"`
	TotalCost      decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"total_cost"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
}

func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (Request) TableName() string {
	return "requests"
}
