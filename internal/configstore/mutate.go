package configstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func authorize(role string) error {
	if role == models.RoleAdmin || role == models.RoleSupport {
		return nil
	}
	return fmt.Errorf("role %q cannot change configuration: %w", role, ErrForbidden)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// write runs fn under the writer lock and publishes the result before returning.
func (s *Store) write(ctx context.Context, role string, fn func(snap *snapshot) error) error {
	if err := authorize(role); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := fn(s.snap.Load()); err != nil {
		return err
	}

	if err := s.reload(ctx); err != nil {
		s.log.Error("reload after write failed", zap.Error(err))
		return fmt.Errorf("reload after write: %w", err)
	}
	return nil
}

// UpsertTier creates a tier when tier.ID is nil and updates it otherwise.
// Exactly one free default tier exists at all times.
func (s *Store) UpsertTier(ctx context.Context, role string, tier models.Tier) (models.Tier, error) {
	err := s.write(ctx, role, func(snap *snapshot) error {
		tier.Name = strings.TrimSpace(tier.Name)
		if tier.Name == "" {
			return invalid("tier name is required")
		}
		if tier.Price.IsNegative() {
			return invalid("tier price must not be negative")
		}
		if tier.IsDefault && !tier.IsFree {
			return invalid("the default tier must be free")
		}
		for _, other := range snap.tiers {
			if other.ID != tier.ID && strings.EqualFold(other.Name, tier.Name) {
				return invalid("tier %q already exists", tier.Name)
			}
		}

		if tier.ID != uuid.Nil {
			existing, ok := snap.tiers[tier.ID]
			if !ok {
				return fmt.Errorf("tier %s: %w", tier.ID, ErrNotFound)
			}
			if existing.IsDefault && !tier.IsDefault {
				return invalid("make another tier default instead of unsetting the default tier")
			}
			tier.CreatedAt = existing.CreatedAt
		} else if snap.defaultTier == uuid.Nil && !tier.IsDefault {
			return invalid("a free default tier must exist before other tiers")
		}

		return s.source.SaveTier(ctx, &tier)
	})
	if err != nil {
		return models.Tier{}, err
	}

	return s.GetTier(tier.ID)
}

func (s *Store) DeleteTier(ctx context.Context, role string, id uuid.UUID) error {
	return s.write(ctx, role, func(snap *snapshot) error {
		tier, ok := snap.tiers[id]
		if !ok {
			return fmt.Errorf("tier %s: %w", id, ErrNotFound)
		}
		if tier.IsDefault {
			return invalid("the default tier cannot be deleted")
		}
		return s.source.DeleteTier(ctx, id)
	})
}

// UpsertModel creates a model when m.ID is nil and updates it otherwise.
func (s *Store) UpsertModel(ctx context.Context, role string, m models.Model) (models.Model, error) {
	err := s.write(ctx, role, func(snap *snapshot) error {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return invalid("model name is required")
		}
		if _, err := uuid.Parse(m.Name); err == nil {
			return invalid("model name must not be a uuid")
		}
		if m.ExternalID == "" {
			m.ExternalID = m.Name
		}
		if id, ok := snap.modelsByName[m.Name]; ok && id != m.ID {
			return invalid("model %q already exists", m.Name)
		}

		if m.ID != uuid.Nil {
			existing, ok := snap.models[m.ID]
			if !ok {
				return fmt.Errorf("model %s: %w", m.ID, ErrNotFound)
			}
			m.CreatedAt = existing.CreatedAt
		}

		return s.source.SaveModel(ctx, &m)
	})
	if err != nil {
		return models.Model{}, err
	}

	return s.GetModel(m.ID.String())
}

// DeleteModel removes a model and its config and rate limits.
func (s *Store) DeleteModel(ctx context.Context, role string, id uuid.UUID) error {
	err := s.write(ctx, role, func(snap *snapshot) error {
		if _, ok := snap.models[id]; !ok {
			return fmt.Errorf("model %s: %w", id, ErrNotFound)
		}
		return s.source.DeleteModel(ctx, id)
	})
	if err != nil {
		return err
	}

	s.notify(id, uuid.Nil)
	return nil
}

// UpsertModelConfig sets the pricing and availability of a model. There is one config per model.
func (s *Store) UpsertModelConfig(ctx context.Context, role string, cfg models.ModelConfig) (models.ModelConfig, error) {
	err := s.write(ctx, role, func(snap *snapshot) error {
		if _, ok := snap.models[cfg.ModelID]; !ok {
			return invalid("model %s does not exist", cfg.ModelID)
		}
		if cfg.InputTokenCost.IsNegative() || cfg.OutputTokenCost.IsNegative() {
			return invalid("token costs must not be negative")
		}
		// upserted on model_id; an existing row keeps its id
		cfg.ID = uuid.Nil
		return s.source.SaveModelConfig(ctx, &cfg)
	})
	if err != nil {
		return models.ModelConfig{}, err
	}

	return s.GetModelConfig(cfg.ModelID)
}

func (s *Store) DeleteModelConfig(ctx context.Context, role string, id uuid.UUID) error {
	return s.write(ctx, role, func(snap *snapshot) error {
		if _, ok := snap.configsByID[id]; !ok {
			return fmt.Errorf("model config %s: %w", id, ErrNotFound)
		}
		return s.source.DeleteModelConfig(ctx, id)
	})
}

// UpsertRateLimit sets the limits of a (model, tier) pair. Values <= 0 are unlimited.
func (s *Store) UpsertRateLimit(ctx context.Context, role string, rl models.RateLimit) (models.RateLimit, error) {
	err := s.write(ctx, role, func(snap *snapshot) error {
		if _, ok := snap.models[rl.ModelID]; !ok {
			return invalid("model %s does not exist", rl.ModelID)
		}
		if _, ok := snap.tiers[rl.TierID]; !ok {
			return invalid("tier %s does not exist", rl.TierID)
		}
		rl.ID = uuid.Nil
		return s.source.SaveRateLimit(ctx, &rl)
	})
	if err != nil {
		return models.RateLimit{}, err
	}

	stored, ok := s.GetRateLimit(rl.ModelID, rl.TierID)
	if !ok {
		return models.RateLimit{}, fmt.Errorf("rate limit %s/%s: %w", rl.ModelID, rl.TierID, ErrNotFound)
	}
	return stored, nil
}

func (s *Store) DeleteRateLimit(ctx context.Context, role string, id uuid.UUID) error {
	return s.write(ctx, role, func(snap *snapshot) error {
		if _, ok := snap.limitsByID[id]; !ok {
			return fmt.Errorf("rate limit %s: %w", id, ErrNotFound)
		}
		return s.source.DeleteRateLimit(ctx, id)
	})
}
