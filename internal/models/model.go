package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Model is a catalog entry clients address by name.
// ExternalID is the identifier sent to the upstream provider.
type Model struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	ExternalID  string    `gorm:"not null" json:"external_id"`
	Provider    string    `json:"provider"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (Model) TableName() string {
	return "models"
}
