package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	RoleUser    = "user"
	RoleSupport = "support"
	RoleAdmin   = "admin"
)

// Tenant is an account that consumes models and owns a balance.
// A nil TierID places the tenant on the default tier.
type Tenant struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Email              string          `gorm:"uniqueIndex;not null" json:"email"`
	Name               string          `json:"name"`
	Role               string          `gorm:"not null;default:'user'" json:"role"`
	TierID             *uuid.UUID      `gorm:"type:uuid;index" json:"tier_id,omitempty"`
	Balance            decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"balance"`
	FreeAccessApproved bool            `gorm:"not null;default:false" json:"free_access_approved"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Role == "" {
		t.Role = RoleUser
	}
	return nil
}

func (Tenant) TableName() string {
	return "tenants"
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleSupport, RoleAdmin:
		return true
	default:
		return false
	}
}
