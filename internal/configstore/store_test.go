package configstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *Store
	repo  *repository.ConfigRepository
	clock *clock.FakeClock
	free  models.Tier
	model models.Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.Open(storage.DriverSQLite, "file::memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		repo:  repository.NewConfigRepository(db),
		clock: clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.store = New(f.repo, Config{Staleness: time.Minute}, f.clock, nil)
	require.NoError(t, f.store.Load(context.Background()))

	ctx := context.Background()
	f.free, err = f.store.UpsertTier(ctx, models.RoleAdmin, models.Tier{Name: "free", IsFree: true, IsDefault: true})
	require.NoError(t, err)
	f.model, err = f.store.UpsertModel(ctx, models.RoleAdmin, models.Model{Name: "gpt-mini", ExternalID: "gpt-4o-mini"})
	require.NoError(t, err)

	return f
}

func TestStore_Reads(t *testing.T) {
	f := newFixture(t)

	byName, err := f.store.GetModel("gpt-mini")
	require.NoError(t, err)
	byID, err := f.store.GetModel(f.model.ID.String())
	require.NoError(t, err)
	assert.Equal(t, byName.ID, byID.ID)
	assert.Equal(t, "gpt-4o-mini", byID.ExternalID)

	_, err = f.store.GetModel("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.GetModelConfig(f.model.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, found := f.store.GetRateLimit(f.model.ID, f.free.ID)
	assert.False(t, found)

	tier, err := f.store.ResolveTier(nil)
	require.NoError(t, err)
	assert.Equal(t, f.free.ID, tier.ID)

	unknown := uuid.New()
	tier, err = f.store.ResolveTier(&unknown)
	require.NoError(t, err)
	assert.Equal(t, f.free.ID, tier.ID)
}

func TestStore_RoleGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpsertTier(ctx, models.RoleUser, models.Tier{Name: "pro"})
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.store.DeleteModel(ctx, "", f.model.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.store.UpsertModelConfig(ctx, models.RoleSupport, models.ModelConfig{ModelID: f.model.ID, IsEnabled: true})
	assert.NoError(t, err)
}

func TestStore_DefaultTierInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpsertTier(ctx, models.RoleAdmin, models.Tier{Name: "paid-default", IsDefault: true})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = f.store.DeleteTier(ctx, models.RoleAdmin, f.free.ID)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	unset := f.free
	unset.IsDefault = false
	_, err = f.store.UpsertTier(ctx, models.RoleAdmin, unset)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	trial, err := f.store.UpsertTier(ctx, models.RoleAdmin, models.Tier{Name: "trial", IsFree: true, IsDefault: true})
	require.NoError(t, err)

	def, err := f.store.DefaultTier()
	require.NoError(t, err)
	assert.Equal(t, trial.ID, def.ID)

	old, err := f.store.GetTier(f.free.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault)

	require.NoError(t, f.store.DeleteTier(ctx, models.RoleAdmin, f.free.ID))
	assert.Len(t, f.store.ListTiers(), 1)
}

func TestStore_FirstTierMustBeDefault(t *testing.T) {
	db, err := storage.Open(storage.DriverSQLite, "file::memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	store := New(repository.NewConfigRepository(db), Config{}, nil, nil)
	require.NoError(t, store.Load(context.Background()))

	_, err = store.UpsertTier(context.Background(), models.RoleAdmin, models.Tier{Name: "pro", Price: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = store.DefaultTier()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpsertModelConfig(ctx, models.RoleAdmin, models.ModelConfig{
		ModelID:        f.model.ID,
		InputTokenCost: decimal.NewFromInt(-1),
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = f.store.UpsertModelConfig(ctx, models.RoleAdmin, models.ModelConfig{ModelID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = f.store.UpsertRateLimit(ctx, models.RoleAdmin, models.RateLimit{ModelID: f.model.ID, TierID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = f.store.UpsertModel(ctx, models.RoleAdmin, models.Model{Name: "gpt-mini"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = f.store.UpsertTier(ctx, models.RoleAdmin, models.Tier{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStore_ModelConfigUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.UpsertModelConfig(ctx, models.RoleAdmin, models.ModelConfig{ModelID: f.model.ID, IsEnabled: true})
	require.NoError(t, err)

	second, err := f.store.UpsertModelConfig(ctx, models.RoleAdmin, models.ModelConfig{
		ModelID:         f.model.ID,
		IsEnabled:       false,
		InputTokenCost:  decimal.RequireFromString("0.01"),
		OutputTokenCost: decimal.RequireFromString("0.03"),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.IsEnabled)
	assert.Len(t, f.store.ListModelConfigs(), 1)

	require.NoError(t, f.store.DeleteModelConfig(ctx, models.RoleAdmin, second.ID))
	_, err = f.store.GetModelConfig(f.model.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

type recorder struct {
	mu    sync.Mutex
	calls []pair
}

func (r *recorder) record(modelID, tierID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, pair{model: modelID, tier: tierID})
}

func (r *recorder) seen() []pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pair(nil), r.calls...)
}

func TestStore_InvalidationFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &recorder{}
	f.store.OnInvalidate(rec.record)

	rl, err := f.store.UpsertRateLimit(ctx, models.RoleAdmin, models.RateLimit{
		ModelID:           f.model.ID,
		TierID:            f.free.ID,
		RequestsPerMinute: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rl.RequestsPerMinute)
	assert.Equal(t, []pair{{model: f.model.ID, tier: f.free.ID}}, rec.seen())

	// same values: nothing changed
	_, err = f.store.UpsertRateLimit(ctx, models.RoleAdmin, models.RateLimit{
		ModelID:           f.model.ID,
		TierID:            f.free.ID,
		RequestsPerMinute: 5,
	})
	require.NoError(t, err)
	assert.Len(t, rec.seen(), 1)

	require.NoError(t, f.store.DeleteModel(ctx, models.RoleAdmin, f.model.ID))

	calls := rec.seen()
	require.Len(t, calls, 3)
	assert.Equal(t, pair{model: f.model.ID, tier: f.free.ID}, calls[1])
	assert.Equal(t, pair{model: f.model.ID, tier: uuid.Nil}, calls[2])

	_, found := f.store.GetRateLimit(f.model.ID, f.free.ID)
	assert.False(t, found)
}

func TestStore_StaleSnapshotRefreshesInBackground(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// written behind the store's back, as another replica would
	require.NoError(t, f.repo.SaveModel(ctx, &models.Model{Name: "late", ExternalID: "late"}))

	_, err := f.store.GetModel("late")
	assert.ErrorIs(t, err, ErrNotFound)

	f.clock.Advance(2 * time.Minute)
	_, _ = f.store.GetModel("late")

	assert.Eventually(t, func() bool {
		_, err := f.store.GetModel("late")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
