package configstore

import (
	"sort"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/google/uuid"
)

type pair struct {
	model uuid.UUID
	tier  uuid.UUID
}

// snapshot is immutable once published.
type snapshot struct {
	loadedAt time.Time

	tiers       map[uuid.UUID]models.Tier
	defaultTier uuid.UUID

	models       map[uuid.UUID]models.Model
	modelsByName map[string]uuid.UUID

	configs     map[uuid.UUID]models.ModelConfig // by model id
	configsByID map[uuid.UUID]uuid.UUID          // config id -> model id

	limits     map[pair]models.RateLimit
	limitsByID map[uuid.UUID]pair
}

func buildSnapshot(now time.Time, tiers []models.Tier, ms []models.Model, cfgs []models.ModelConfig, limits []models.RateLimit) *snapshot {
	s := &snapshot{
		loadedAt:     now,
		tiers:        make(map[uuid.UUID]models.Tier, len(tiers)),
		models:       make(map[uuid.UUID]models.Model, len(ms)),
		modelsByName: make(map[string]uuid.UUID, len(ms)),
		configs:      make(map[uuid.UUID]models.ModelConfig, len(cfgs)),
		configsByID:  make(map[uuid.UUID]uuid.UUID, len(cfgs)),
		limits:       make(map[pair]models.RateLimit, len(limits)),
		limitsByID:   make(map[uuid.UUID]pair, len(limits)),
	}

	for _, t := range tiers {
		s.tiers[t.ID] = t
		if t.IsDefault {
			s.defaultTier = t.ID
		}
	}
	for _, m := range ms {
		s.models[m.ID] = m
		s.modelsByName[m.Name] = m.ID
	}
	for _, c := range cfgs {
		s.configs[c.ModelID] = c
		s.configsByID[c.ID] = c.ModelID
	}
	for _, rl := range limits {
		p := pair{model: rl.ModelID, tier: rl.TierID}
		s.limits[p] = rl
		s.limitsByID[rl.ID] = p
	}

	return s
}

func emptySnapshot() *snapshot {
	return buildSnapshot(time.Time{}, nil, nil, nil, nil)
}

// changedLimits lists every pair whose effective limit differs between a and b.
func changedLimits(a, b *snapshot) []pair {
	var out []pair
	for p, old := range a.limits {
		cur, ok := b.limits[p]
		if !ok || !sameLimits(old, cur) {
			out = append(out, p)
		}
	}
	for p := range b.limits {
		if _, ok := a.limits[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func sameLimits(a, b models.RateLimit) bool {
	return a.RequestsPerMinute == b.RequestsPerMinute &&
		a.RequestsPerDay == b.RequestsPerDay &&
		a.TokensPerMinute == b.TokensPerMinute &&
		a.TokensPerDay == b.TokensPerDay
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) bool) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
