package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RequestRepository reads usage records. Records are written only by the ledger and
// never updated or deleted.
type RequestRepository struct {
	db *storage.Database
}

func NewRequestRepository(db *storage.Database) *RequestRepository {
	return &RequestRepository{db: db}
}

type UsageFilter struct {
	TenantID *uuid.UUID
	ModelID  *uuid.UUID
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Per-model aggregate of usage records.
type UsageSummary struct {
	ModelID      uuid.UUID       `json:"model_id"`
	Requests     int64           `json:"requests"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	TotalCost    decimal.Decimal `json:"total_cost"`
}

func (r *RequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	var req models.Request
	err := r.db.DB.WithContext(ctx).Where("id = ?", id).First(&req).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &req, nil
}

// Returns the record committed under the tenant's idempotency key, or nil.
func (r *RequestRepository) FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.Request, error) {
	return FindRequestByIdempotencyKey(r.db.DB.WithContext(ctx), tenantID, key)
}

// Same lookup for callers already inside a transaction.
func FindRequestByIdempotencyKey(tx *gorm.DB, tenantID uuid.UUID, key string) (*models.Request, error) {
	var req models.Request
	err := tx.Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).First(&req).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &req, nil
}

// Retrieves records matching the filter, newest first
func (r *RequestRepository) List(ctx context.Context, f UsageFilter) ([]models.Request, error) {
	var reqs []models.Request

	q := r.filtered(ctx, f).Order("created_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	err := q.Find(&reqs).Error
	return reqs, err
}

func (r *RequestRepository) Count(ctx context.Context, f UsageFilter) (int64, error) {
	var count int64
	err := r.filtered(ctx, f).Count(&count).Error
	return count, err
}

// Aggregates matching records by model
func (r *RequestRepository) Summarize(ctx context.Context, f UsageFilter) ([]UsageSummary, error) {
	var rows []UsageSummary

	err := r.filtered(ctx, f).
		Select("model_id, COUNT(*) AS requests, " +
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, " +
			"COALESCE(SUM(output_tokens), 0) AS output_tokens, " +
			"COALESCE(SUM(total_cost), 0) AS total_cost").
		Group("model_id").
		Order("requests DESC").
		Scan(&rows).Error

	return rows, err
}

// Sum of total_cost over matching records
func (r *RequestRepository) TotalCost(ctx context.Context, f UsageFilter) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.filtered(ctx, f).
		Select("COALESCE(SUM(total_cost), 0)").
		Row().
		Scan(&total)

	return total, err
}

func (r *RequestRepository) filtered(ctx context.Context, f UsageFilter) *gorm.DB {
	q := r.db.DB.WithContext(ctx).Model(&models.Request{})
	if f.TenantID != nil {
		q = q.Where("tenant_id = ?", *f.TenantID)
	}
	if f.ModelID != nil {
		q = q.Where("model_id = ?", *f.ModelID)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", f.To)
	}
	return q
}
