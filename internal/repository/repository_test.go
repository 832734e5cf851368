package repository

import (
	"context"
	"testing"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, "file::memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfigRepository_DefaultTierIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewConfigRepository(newTestDB(t))

	free := &models.Tier{Name: "free", IsFree: true, IsDefault: true}
	require.NoError(t, repo.SaveTier(ctx, free))
	require.NotEqual(t, uuid.Nil, free.ID)

	trial := &models.Tier{Name: "trial", IsFree: true, IsDefault: true}
	require.NoError(t, repo.SaveTier(ctx, trial))

	tiers, err := repo.ListTiers(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 2)

	defaults := 0
	for _, tier := range tiers {
		if tier.IsDefault {
			defaults++
			assert.Equal(t, trial.ID, tier.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestConfigRepository_DeleteTierCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewConfigRepository(db)
	tenants := NewTenantRepository(db)

	pro := &models.Tier{Name: "pro", Price: decimal.NewFromInt(20)}
	require.NoError(t, repo.SaveTier(ctx, pro))
	model := &models.Model{Name: "gpt", ExternalID: "gpt-4o"}
	require.NoError(t, repo.SaveModel(ctx, model))
	require.NoError(t, repo.SaveRateLimit(ctx, &models.RateLimit{ModelID: model.ID, TierID: pro.ID, RequestsPerMinute: 10}))

	tenant := &models.Tenant{Email: "a@example.com", TierID: &pro.ID}
	require.NoError(t, tenants.Create(ctx, tenant))

	require.NoError(t, repo.DeleteTier(ctx, pro.ID))

	limits, err := repo.ListRateLimits(ctx)
	require.NoError(t, err)
	assert.Empty(t, limits)

	got, err := tenants.FindByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.TierID)
}

func TestConfigRepository_RateLimitUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewConfigRepository(newTestDB(t))

	modelID, tierID := uuid.New(), uuid.New()
	require.NoError(t, repo.SaveRateLimit(ctx, &models.RateLimit{ModelID: modelID, TierID: tierID, RequestsPerMinute: 5}))
	require.NoError(t, repo.SaveRateLimit(ctx, &models.RateLimit{ModelID: modelID, TierID: tierID, RequestsPerMinute: 9, TokensPerDay: 1000}))

	limits, err := repo.ListRateLimits(ctx)
	require.NoError(t, err)
	require.Len(t, limits, 1)
	assert.Equal(t, int64(9), limits[0].RequestsPerMinute)
	assert.Equal(t, int64(1000), limits[0].TokensPerDay)
}

func TestConfigRepository_ModelConfigUpsertAndDeleteModel(t *testing.T) {
	ctx := context.Background()
	repo := NewConfigRepository(newTestDB(t))

	model := &models.Model{Name: "claude", ExternalID: "claude-x"}
	require.NoError(t, repo.SaveModel(ctx, model))

	require.NoError(t, repo.SaveModelConfig(ctx, &models.ModelConfig{ModelID: model.ID, IsEnabled: true}))
	require.NoError(t, repo.SaveModelConfig(ctx, &models.ModelConfig{
		ModelID:         model.ID,
		IsEnabled:       false,
		InputTokenCost:  decimal.RequireFromString("0.01"),
		OutputTokenCost: decimal.RequireFromString("0.03"),
	}))

	cfgs, err := repo.ListModelConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.False(t, cfgs[0].IsEnabled)
	assert.Equal(t, "0.030000", cfgs[0].OutputTokenCost.StringFixed(6))

	require.NoError(t, repo.DeleteModel(ctx, model.ID))

	ms, err := repo.ListModels(ctx)
	require.NoError(t, err)
	assert.Empty(t, ms)
	cfgs, err = repo.ListModelConfigs(ctx)
	require.NoError(t, err)
	assert.Empty(t, cfgs)
}

func TestTenantRepository_UpdateIgnoresBalance(t *testing.T) {
	ctx := context.Background()
	repo := NewTenantRepository(newTestDB(t))

	tenant := &models.Tenant{Email: "b@example.com", Balance: decimal.NewFromInt(5)}
	require.NoError(t, repo.Create(ctx, tenant))
	assert.Equal(t, models.RoleUser, tenant.Role)

	require.NoError(t, repo.Update(ctx, tenant.ID, map[string]interface{}{
		"name":    "Bee",
		"balance": decimal.NewFromInt(1000),
	}))
	require.NoError(t, repo.SetFreeAccessApproved(ctx, tenant.ID, true))

	got, err := repo.FindByEmail(ctx, "b@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bee", got.Name)
	assert.True(t, got.FreeAccessApproved)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5)))

	missing, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, repo.SetFreeAccessApproved(ctx, uuid.New(), true))
}

func TestRequestRepository_Summaries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRequestRepository(db)

	tenantA, tenantB := uuid.New(), uuid.New()
	modelX, modelY := uuid.New(), uuid.New()
	key := "idem-1"

	rows := []models.Request{
		{TenantID: tenantA, ModelID: modelX, InputTokens: 100, OutputTokens: 50, TotalCost: decimal.RequireFromString("0.25"), IdempotencyKey: &key},
		{TenantID: tenantA, ModelID: modelX, InputTokens: 10, OutputTokens: 5, TotalCost: decimal.RequireFromString("0.5")},
		{TenantID: tenantA, ModelID: modelY, InputTokens: 1, OutputTokens: 1, TotalCost: decimal.RequireFromString("1")},
		{TenantID: tenantB, ModelID: modelX, InputTokens: 7, OutputTokens: 7, TotalCost: decimal.RequireFromString("2")},
	}
	for i := range rows {
		require.NoError(t, db.DB.Create(&rows[i]).Error)
	}

	summary, err := repo.Summarize(ctx, UsageFilter{TenantID: &tenantA})
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, modelX, summary[0].ModelID)
	assert.Equal(t, int64(2), summary[0].Requests)
	assert.Equal(t, int64(110), summary[0].InputTokens)
	assert.Equal(t, int64(55), summary[0].OutputTokens)
	assert.Equal(t, "0.750000", summary[0].TotalCost.StringFixed(6))

	total, err := repo.TotalCost(ctx, UsageFilter{TenantID: &tenantA})
	require.NoError(t, err)
	assert.Equal(t, "1.750000", total.StringFixed(6))

	none, err := repo.TotalCost(ctx, UsageFilter{TenantID: &tenantA, From: time.Now().UTC().Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	list, err := repo.List(ctx, UsageFilter{ModelID: &modelX, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	count, err := repo.Count(ctx, UsageFilter{ModelID: &modelX})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	found, err := repo.FindByIdempotencyKey(ctx, tenantA, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rows[0].ID, found.ID)

	other, err := repo.FindByIdempotencyKey(ctx, tenantB, key)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(newTestDB(t))
	tenantID := uuid.New()

	key := &models.APIKey{KeyHash: "h1", Name: "ci", TenantID: tenantID, IsActive: true}
	require.NoError(t, repo.Create(ctx, key))

	got, err := repo.FindByHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key.ID, got.ID)

	require.NoError(t, repo.UpdateLastUsed(ctx, key.ID))
	require.NoError(t, repo.Deactivate(ctx, key.ID))

	got, err = repo.FindByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, got)

	count, err := repo.CountByTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, count)

	keys, err := repo.List(ctx, &tenantID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
	assert.False(t, keys[0].IsActive)
	require.NotNil(t, keys[0].RevokedAt)

	revokedAt := *keys[0].RevokedAt
	require.NoError(t, repo.Deactivate(ctx, key.ID))
	got, err = repo.FindByID(ctx, key.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, revokedAt.Equal(*got.RevokedAt))
}
