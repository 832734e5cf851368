package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/quota"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
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

type stubCatalog struct {
	tiers  map[uuid.UUID]models.Tier
	def    models.Tier
	models []models.Model
}

func (c *stubCatalog) GetTier(id uuid.UUID) (models.Tier, error) {
	if tier, ok := c.tiers[id]; ok {
		return tier, nil
	}
	return models.Tier{}, ErrNotFound
}

func (c *stubCatalog) ResolveTier(id *uuid.UUID) (models.Tier, error) {
	if id != nil {
		if tier, ok := c.tiers[*id]; ok {
			return tier, nil
		}
	}
	return c.def, nil
}

func (c *stubCatalog) GetModel(ref string) (models.Model, error) {
	for _, m := range c.models {
		if m.Name == ref || m.ID.String() == ref {
			return m, nil
		}
	}
	return models.Model{}, ErrNotFound
}

func (c *stubCatalog) ListModels() []models.Model {
	return c.models
}

type stubQuota struct {
	snap quota.Snapshot
}

func (q stubQuota) Usage(uuid.UUID, uuid.UUID, uuid.UUID) quota.Snapshot {
	return q.snap
}

func newCatalog() *stubCatalog {
	free := models.Tier{ID: uuid.New(), Name: "free", IsFree: true, IsDefault: true}
	pro := models.Tier{ID: uuid.New(), Name: "pro"}
	return &stubCatalog{
		tiers:  map[uuid.UUID]models.Tier{free.ID: free, pro.ID: pro},
		def:    free,
		models: []models.Model{{ID: uuid.New(), Name: "gpt-mini"}, {ID: uuid.New(), Name: "gpt-large"}},
	}
}

func (c *stubCatalog) tier(name string) models.Tier {
	for _, t := range c.tiers {
		if t.Name == name {
			return t
		}
	}
	panic("no tier " + name)
}

func TestTenantService_Create(t *testing.T) {
	db := newTestDB(t)
	catalog := newCatalog()
	svc := NewTenantService(repository.NewTenantRepository(db), catalog, nil, nil)
	ctx := context.Background()

	tenant, err := svc.Create(ctx, models.RoleAdmin, CreateTenantInput{Email: " Dev@Example.com ", Name: "Dev"})
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", tenant.Email)
	assert.Equal(t, models.RoleUser, tenant.Role)
	assert.Nil(t, tenant.TierID)
	assert.True(t, tenant.Balance.IsZero())

	_, err = svc.Create(ctx, models.RoleAdmin, CreateTenantInput{Email: "dev@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Create(ctx, models.RoleAdmin, CreateTenantInput{Email: "not an email"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Create(ctx, models.RoleAdmin, CreateTenantInput{Email: "ops@example.com", Role: "root"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	unknown := uuid.New()
	_, err = svc.Create(ctx, models.RoleAdmin, CreateTenantInput{Email: "ops@example.com", TierID: &unknown})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTenantService_UpdateAndApprove(t *testing.T) {
	db := newTestDB(t)
	catalog := newCatalog()
	svc := NewTenantService(repository.NewTenantRepository(db), catalog, nil, nil)
	ctx := context.Background()

	tenant, err := svc.Create(ctx, models.RoleAdmin, CreateTenantInput{Email: "dev@example.com"})
	require.NoError(t, err)

	proID := catalog.tier("pro").ID
	name := "Renamed"
	updated, err := svc.Update(ctx, models.RoleAdmin, tenant.ID, UpdateTenantInput{Name: &name, TierID: &proID})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	require.NotNil(t, updated.TierID)
	assert.Equal(t, proID, *updated.TierID)

	updated, err = svc.Update(ctx, models.RoleAdmin, tenant.ID, UpdateTenantInput{ClearTier: true})
	require.NoError(t, err)
	assert.Nil(t, updated.TierID)

	bad := "root"
	_, err = svc.Update(ctx, models.RoleAdmin, tenant.ID, UpdateTenantInput{Role: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Update(ctx, models.RoleAdmin, uuid.New(), UpdateTenantInput{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Approve(ctx, tenant.ID, true))
	got, err := svc.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, got.FreeAccessApproved)

	assert.ErrorIs(t, svc.Approve(ctx, uuid.New(), true), ErrNotFound)

	tenants, total, err := svc.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, tenants, 1)
	assert.Equal(t, int64(1), total)
}

func TestAPIKeyService_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	tenants := repository.NewTenantRepository(db)
	svc := NewAPIKeyService(repository.NewAPIKeyRepository(db), tenants, nil, 2, nil)
	ctx := context.Background()

	tenant := &models.Tenant{Email: "dev@example.com"}
	require.NoError(t, tenants.Create(ctx, tenant))

	plain, key, err := svc.Create(ctx, tenant.ID, "ci")
	require.NoError(t, err)
	assert.Contains(t, plain, keyPrefix)
	assert.NotEqual(t, plain, key.KeyHash)
	assert.Len(t, key.KeyPrefix, displayPrefixLen)
	assert.True(t, strings.HasPrefix(plain, key.KeyPrefix))

	found, err := svc.Validate(ctx, plain)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, key.ID, found.ID)
	assert.Equal(t, tenant.ID, found.TenantID)

	missing, err := svc.Validate(ctx, "gw_unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = svc.Validate(ctx, "no-prefix")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, _, err = svc.Create(ctx, tenant.ID, "second")
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, tenant.ID, "third")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.Create(ctx, tenant.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = svc.Create(ctx, uuid.New(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Revoke(ctx, key.ID))
	found, err = svc.Validate(ctx, plain)
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.ErrorIs(t, svc.Revoke(ctx, uuid.New()), ErrNotFound)

	keys, err := svc.List(ctx, &tenant.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestUsageService_Summary(t *testing.T) {
	db := newTestDB(t)
	catalog := newCatalog()
	svc := NewUsageService(repository.NewRequestRepository(db), catalog, stubQuota{})
	ctx := context.Background()

	tenant := uuid.New()
	mini, large := catalog.models[0], catalog.models[1]
	for _, rec := range []models.Request{
		{TenantID: tenant, ModelID: mini.ID, InputTokens: 100, OutputTokens: 10, TotalCost: decimal.RequireFromString("0.5")},
		{TenantID: tenant, ModelID: mini.ID, InputTokens: 50, OutputTokens: 5, TotalCost: decimal.RequireFromString("0.25")},
		{TenantID: tenant, ModelID: large.ID, InputTokens: 10, OutputTokens: 1, TotalCost: decimal.RequireFromString("1")},
		{TenantID: uuid.New(), ModelID: large.ID, InputTokens: 999, OutputTokens: 999, TotalCost: decimal.RequireFromString("9")},
	} {
		rec := rec
		require.NoError(t, db.DB.Create(&rec).Error)
	}

	summary, err := svc.Summary(ctx, repository.UsageFilter{TenantID: &tenant})
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalRequests)
	assert.Equal(t, int64(160), summary.TotalInputTokens)
	assert.Equal(t, int64(16), summary.TotalOutputTokens)
	assert.Equal(t, "1.750000", summary.TotalCost.StringFixed(6))
	require.Len(t, summary.Models, 2)
	assert.Equal(t, "gpt-mini", summary.Models[0].ModelName)
	assert.Equal(t, int64(2), summary.Models[0].Requests)

	page, err := svc.List(ctx, repository.UsageFilter{TenantID: &tenant, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, int64(3), page.Total)

	page, err = svc.List(ctx, repository.UsageFilter{From: time.Now().Add(time.Hour).UTC()})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, 100, page.Limit)
}

func TestUsageService_Quota(t *testing.T) {
	catalog := newCatalog()
	snap := quota.Snapshot{RequestsMinute: 3, Limits: quota.Limits{RequestsPerMinute: 5}}
	svc := NewUsageService(nil, catalog, stubQuota{snap: snap})

	tenant := &models.Tenant{ID: uuid.New()}
	status, err := svc.Quota(tenant, "gpt-mini")
	require.NoError(t, err)
	assert.Equal(t, "free", status.Tier.Name)
	assert.Equal(t, int64(3), status.RequestsMinute)
	assert.Equal(t, int64(5), status.Limits.RequestsPerMinute)

	_, err = svc.Quota(tenant, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantService_SupportCannotGrantRoleOrTier(t *testing.T) {
	db := newTestDB(t)
	catalog := newCatalog()
	svc := NewTenantService(repository.NewTenantRepository(db), catalog, nil, nil)
	ctx := context.Background()
	proID := catalog.tier("pro").ID

	_, err := svc.Create(ctx, models.RoleSupport, CreateTenantInput{Email: "ops@example.com", Role: models.RoleAdmin})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Create(ctx, models.RoleSupport, CreateTenantInput{Email: "ops@example.com", TierID: &proID})
	assert.ErrorIs(t, err, ErrForbidden)

	user, err := svc.Create(ctx, models.RoleSupport, CreateTenantInput{Email: "dev@example.com", Name: "Dev"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)

	staff, err := svc.Create(ctx, models.RoleAdmin, CreateTenantInput{Email: "staff@example.com", Role: models.RoleSupport})
	require.NoError(t, err)

	promote := models.RoleAdmin
	_, err = svc.Update(ctx, models.RoleSupport, staff.ID, UpdateTenantInput{Role: &promote})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Update(ctx, models.RoleSupport, user.ID, UpdateTenantInput{TierID: &proID})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Update(ctx, models.RoleSupport, user.ID, UpdateTenantInput{ClearTier: true})
	assert.ErrorIs(t, err, ErrForbidden)

	name := "Staff"
	_, err = svc.Update(ctx, models.RoleSupport, staff.ID, UpdateTenantInput{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	name = "Developer"
	updated, err := svc.Update(ctx, models.RoleSupport, user.ID, UpdateTenantInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Developer", updated.Name)

	got, err := svc.Get(ctx, staff.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupport, got.Role)
}
