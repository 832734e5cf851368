package service

import (
	"context"
	"fmt"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/quota"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog is the part of the config store the usage views need.
type Catalog interface {
	GetModel(ref string) (models.Model, error)
	ListModels() []models.Model
	ResolveTier(id *uuid.UUID) (models.Tier, error)
}

// QuotaReader reads live quota counters.
type QuotaReader interface {
	Usage(tenantID, modelID, tierID uuid.UUID) quota.Snapshot
}

type UsageService struct {
	repository *repository.RequestRepository
	catalog    Catalog
	quota      QuotaReader
}

func NewUsageService(repo *repository.RequestRepository, catalog Catalog, q QuotaReader) *UsageService {
	return &UsageService{
		repository: repo,
		catalog:    catalog,
		quota:      q,
	}
}

type UsagePage struct {
	Records []models.Request `json:"records"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// Holds per-model totals with the model name resolved
type ModelUsage struct {
	ModelID      uuid.UUID       `json:"model_id"`
	ModelName    string          `json:"model_name"`
	Requests     int64           `json:"requests"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	TotalCost    decimal.Decimal `json:"total_cost"`
}

type UsageSummary struct {
	TotalRequests     int64           `json:"total_requests"`
	TotalInputTokens  int64           `json:"total_input_tokens"`
	TotalOutputTokens int64           `json:"total_output_tokens"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	Models            []ModelUsage    `json:"models"`
}

// Retrieves usage records with pagination and filtering
func (s *UsageService) List(ctx context.Context, f repository.UsageFilter) (*UsagePage, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	records, err := s.repository.List(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := s.repository.Count(ctx, f)
	if err != nil {
		return nil, err
	}

	return &UsagePage{Records: records, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Aggregates usage by model for the filter's time range
func (s *UsageService) Summary(ctx context.Context, f repository.UsageFilter) (*UsageSummary, error) {
	rows, err := s.repository.Summarize(ctx, f)
	if err != nil {
		return nil, err
	}

	names := make(map[uuid.UUID]string)
	for _, m := range s.catalog.ListModels() {
		names[m.ID] = m.Name
	}

	summary := &UsageSummary{TotalCost: decimal.Zero, Models: make([]ModelUsage, 0, len(rows))}
	for _, row := range rows {
		summary.TotalRequests += row.Requests
		summary.TotalInputTokens += row.InputTokens
		summary.TotalOutputTokens += row.OutputTokens
		summary.TotalCost = summary.TotalCost.Add(row.TotalCost)

		summary.Models = append(summary.Models, ModelUsage{
			ModelID:      row.ModelID,
			ModelName:    names[row.ModelID],
			Requests:     row.Requests,
			InputTokens:  row.InputTokens,
			OutputTokens: row.OutputTokens,
			TotalCost:    row.TotalCost,
		})
	}

	return summary, nil
}

type QuotaStatus struct {
	Model models.Model `json:"model"`
	Tier  models.Tier  `json:"tier"`
	quota.Snapshot
}

// Returns the live counters of a tenant for one model
func (s *UsageService) Quota(tenant *models.Tenant, modelRef string) (*QuotaStatus, error) {
	model, err := s.catalog.GetModel(modelRef)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", modelRef, ErrNotFound)
	}
	tier, err := s.catalog.ResolveTier(tenant.TierID)
	if err != nil {
		return nil, err
	}

	return &QuotaStatus{
		Model:    model,
		Tier:     tier,
		Snapshot: s.quota.Usage(tenant.ID, model.ID, tier.ID),
	}, nil
}
