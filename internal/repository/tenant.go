package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TenantRepository struct {
	db *storage.Database
}

func NewTenantRepository(db *storage.Database) *TenantRepository {
	return &TenantRepository{db: db}
}

// Inserts a new tenant. The balance is only changed through the ledger afterwards.
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	return r.db.DB.WithContext(ctx).Create(tenant).Error
}

func (r *TenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&tenant).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (r *TenantRepository) FindByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.DB.WithContext(ctx).
		Where("email = ?", email).
		First(&tenant).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&tenants).Error

	return tenants, err
}

// Applies profile updates. Balance is excluded; it is owned by the ledger.
func (r *TenantRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	delete(updates, "balance")
	if len(updates) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *TenantRepository) SetFreeAccessApproved(ctx context.Context, id uuid.UUID, approved bool) error {
	res := r.db.DB.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", id).
		Update("free_access_approved", approved)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *TenantRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).Model(&models.Tenant{}).Count(&count).Error
	return count, err
}
