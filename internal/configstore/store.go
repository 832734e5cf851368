// Package configstore holds the read-mostly catalog of tiers, models, model configs
// and rate limits. Reads are served from an immutable in-memory snapshot; writes go
// through the Source and publish a fresh snapshot.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound      = errors.New("configstore: not found")
	ErrForbidden     = errors.New("configstore: forbidden")
	ErrInvalidConfig = errors.New("configstore: invalid config")
)

// Source is the durable backing of the store.
type Source interface {
	ListTiers(ctx context.Context) ([]models.Tier, error)
	ListModels(ctx context.Context) ([]models.Model, error)
	ListModelConfigs(ctx context.Context) ([]models.ModelConfig, error)
	ListRateLimits(ctx context.Context) ([]models.RateLimit, error)

	SaveTier(ctx context.Context, tier *models.Tier) error
	DeleteTier(ctx context.Context, id uuid.UUID) error
	SaveModel(ctx context.Context, m *models.Model) error
	DeleteModel(ctx context.Context, id uuid.UUID) error
	SaveModelConfig(ctx context.Context, cfg *models.ModelConfig) error
	DeleteModelConfig(ctx context.Context, id uuid.UUID) error
	SaveRateLimit(ctx context.Context, rl *models.RateLimit) error
	DeleteRateLimit(ctx context.Context, id uuid.UUID) error
}

// InvalidateFunc is called when the limits of (modelID, tierID) may have changed.
// A nil tierID covers every tier of the model.
type InvalidateFunc func(modelID, tierID uuid.UUID)

type Config struct {
	// Staleness bounds how old a snapshot may get before a background reload starts.
	Staleness time.Duration
}

type Store struct {
	source Source
	config Config
	clock  clock.Clock
	log    *zap.Logger

	snap       atomic.Pointer[snapshot]
	group      singleflight.Group
	refreshing atomic.Bool

	// serializes mutators so invariant checks see the latest snapshot
	writeMu sync.Mutex
	// serializes reloads so an older read never overwrites a newer snapshot
	reloadMu sync.Mutex

	subsMu      sync.RWMutex
	subscribers []InvalidateFunc
}

func New(source Source, cfg Config, clk clock.Clock, log *zap.Logger) *Store {
	if cfg.Staleness <= 0 {
		cfg.Staleness = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Store{
		source: source,
		config: cfg,
		clock:  clk,
		log:    log.Named("configstore"),
	}
	s.snap.Store(emptySnapshot())
	return s
}

// Load builds the first snapshot. It is also safe to call later to force a reload.
func (s *Store) Load(ctx context.Context) error {
	_, err, _ := s.group.Do("reload", func() (interface{}, error) {
		return nil, s.reload(ctx)
	})
	return err
}

// OnInvalidate registers fn to be told about rate-limit changes.
func (s *Store) OnInvalidate(fn InvalidateFunc) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// LoadedAt returns when the current snapshot was built.
func (s *Store) LoadedAt() time.Time {
	return s.snap.Load().loadedAt
}

func (s *Store) reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	tiers, err := s.source.ListTiers(ctx)
	if err != nil {
		return fmt.Errorf("load tiers: %w", err)
	}
	ms, err := s.source.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	cfgs, err := s.source.ListModelConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load model configs: %w", err)
	}
	limits, err := s.source.ListRateLimits(ctx)
	if err != nil {
		return fmt.Errorf("load rate limits: %w", err)
	}

	next := buildSnapshot(s.clock.Now(), tiers, ms, cfgs, limits)
	prev := s.snap.Swap(next)

	for _, p := range changedLimits(prev, next) {
		s.notify(p.model, p.tier)
	}

	s.log.Debug("snapshot loaded",
		zap.Int("tiers", len(next.tiers)),
		zap.Int("models", len(next.models)),
		zap.Int("rate_limits", len(next.limits)),
	)
	return nil
}

func (s *Store) notify(modelID, tierID uuid.UUID) {
	s.subsMu.RLock()
	subs := s.subscribers
	s.subsMu.RUnlock()

	for _, fn := range subs {
		fn(modelID, tierID)
	}
}

// current returns the published snapshot and starts a background reload when it is stale.
// Readers never wait on the reload.
func (s *Store) current() *snapshot {
	snap := s.snap.Load()
	if s.clock.Now().Sub(snap.loadedAt) < s.config.Staleness {
		return snap
	}

	if s.refreshing.CompareAndSwap(false, true) {
		go func() {
			defer s.refreshing.Store(false)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			_, err, _ := s.group.Do("reload", func() (interface{}, error) {
				return nil, s.reload(ctx)
			})
			if err != nil {
				s.log.Warn("background reload failed, serving stale snapshot", zap.Error(err))
			}
		}()
	}
	return snap
}

// GetModel resolves a model by id or by name.
func (s *Store) GetModel(ref string) (models.Model, error) {
	snap := s.current()

	if id, err := uuid.Parse(ref); err == nil {
		if m, ok := snap.models[id]; ok {
			return m, nil
		}
	}
	if id, ok := snap.modelsByName[ref]; ok {
		return snap.models[id], nil
	}
	return models.Model{}, fmt.Errorf("model %q: %w", ref, ErrNotFound)
}

func (s *Store) GetModelConfig(modelID uuid.UUID) (models.ModelConfig, error) {
	cfg, ok := s.current().configs[modelID]
	if !ok {
		return models.ModelConfig{}, fmt.Errorf("config for model %s: %w", modelID, ErrNotFound)
	}
	return cfg, nil
}

// GetRateLimit reports the configured limit of a pair. Not found means unlimited.
func (s *Store) GetRateLimit(modelID, tierID uuid.UUID) (models.RateLimit, bool) {
	rl, ok := s.current().limits[pair{model: modelID, tier: tierID}]
	return rl, ok
}

func (s *Store) GetTier(id uuid.UUID) (models.Tier, error) {
	t, ok := s.current().tiers[id]
	if !ok {
		return models.Tier{}, fmt.Errorf("tier %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *Store) DefaultTier() (models.Tier, error) {
	snap := s.current()
	t, ok := snap.tiers[snap.defaultTier]
	if !ok {
		return models.Tier{}, fmt.Errorf("default tier: %w", ErrNotFound)
	}
	return t, nil
}

// ResolveTier returns the tier with the given id, or the default tier when id is nil or unknown.
func (s *Store) ResolveTier(id *uuid.UUID) (models.Tier, error) {
	if id != nil {
		if t, ok := s.current().tiers[*id]; ok {
			return t, nil
		}
	}
	return s.DefaultTier()
}

func (s *Store) ListTiers() []models.Tier {
	return sortedValues(s.current().tiers, func(a, b models.Tier) bool { return a.Name < b.Name })
}

func (s *Store) ListModels() []models.Model {
	return sortedValues(s.current().models, func(a, b models.Model) bool { return a.Name < b.Name })
}

func (s *Store) ListModelConfigs() []models.ModelConfig {
	return sortedValues(s.current().configs, func(a, b models.ModelConfig) bool {
		return a.ModelID.String() < b.ModelID.String()
	})
}

func (s *Store) ListRateLimits() []models.RateLimit {
	return sortedValues(s.current().limits, func(a, b models.RateLimit) bool {
		if a.ModelID != b.ModelID {
			return a.ModelID.String() < b.ModelID.String()
		}
		return a.TierID.String() < b.TierID.String()
	})
}
