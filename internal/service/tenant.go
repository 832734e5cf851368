package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TierLookup is satisfied by the config store.
type TierLookup interface {
	GetTier(id uuid.UUID) (models.Tier, error)
}

type TenantService struct {
	repository *repository.TenantRepository
	tiers      TierLookup
	cache      jsonCache
}

func NewTenantService(repo *repository.TenantRepository, tiers TierLookup, redis *storage.RedisClient, log *zap.Logger) *TenantService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TenantService{
		repository: repo,
		tiers:      tiers,
		cache:      jsonCache{redis: redis, ttl: time.Minute, log: log.Named("tenant.cache")},
	}
}

func tenantCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("tenant:cache:%s", id)
}

// Returns the tenant, served from cache when possible. The cached balance may be
// stale; the ledger is the source of truth for money.
func (s *TenantService) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var cached models.Tenant
	if s.cache.get(ctx, tenantCacheKey(id), &cached) {
		return &cached, nil
	}

	tenant, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}

	s.cache.set(ctx, tenantCacheKey(id), tenant)
	return tenant, nil
}

func (s *TenantService) FindByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	tenant, err := s.repository.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %s: %w", email, ErrNotFound)
	}
	return tenant, nil
}

type CreateTenantInput struct {
	Email  string     `json:"email" binding:"required"`
	Name   string     `json:"name"`
	Role   string     `json:"role"`
	TierID *uuid.UUID `json:"tier_id"`
}

// Creates a tenant with a zero balance. Only an admin caller may grant a role
// above user or pick the tier.
func (s *TenantService) Create(ctx context.Context, callerRole string, in CreateTenantInput) (*models.Tenant, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if !models.ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if callerRole != models.RoleAdmin && (role != models.RoleUser || in.TierID != nil) {
		return nil, fmt.Errorf("%w: only admin can set role or tier", ErrForbidden)
	}
	if err := s.checkTier(in.TierID); err != nil {
		return nil, err
	}

	existing, err := s.repository.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: tenant with this email already exists", ErrInvalidInput)
	}

	tenant := &models.Tenant{
		Email:  email,
		Name:   in.Name,
		Role:   role,
		TierID: in.TierID,
	}
	if err := s.repository.Create(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return tenant, nil
}

type UpdateTenantInput struct {
	Name   *string    `json:"name"`
	Role   *string    `json:"role"`
	TierID *uuid.UUID `json:"tier_id"`
	// Moves the tenant back to the default tier.
	ClearTier bool `json:"clear_tier"`
}

// Role and tier changes need an admin caller, and so does any change to a
// tenant that is not a plain user.
func (s *TenantService) Update(ctx context.Context, callerRole string, id uuid.UUID, in UpdateTenantInput) (*models.Tenant, error) {
	admin := callerRole == models.RoleAdmin
	if !admin && (in.Role != nil || in.TierID != nil || in.ClearTier) {
		return nil, fmt.Errorf("%w: only admin can change role or tier", ErrForbidden)
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.Role != nil {
		if !models.ValidRole(*in.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *in.Role)
		}
		updates["role"] = *in.Role
	}
	switch {
	case in.ClearTier:
		updates["tier_id"] = nil
	case in.TierID != nil:
		if err := s.checkTier(in.TierID); err != nil {
			return nil, err
		}
		updates["tier_id"] = *in.TierID
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && current.Role != models.RoleUser {
		return nil, fmt.Errorf("%w: only admin can modify %s tenants", ErrForbidden, current.Role)
	}
	if err := s.repository.Update(ctx, id, updates); err != nil {
		return nil, err
	}
	s.Invalidate(ctx, id)

	return s.Get(ctx, id)
}

// Sets the free-access approval that waives charges on a free tier.
func (s *TenantService) Approve(ctx context.Context, id uuid.UUID, approved bool) error {
	err := s.repository.SetFreeAccessApproved(ctx, id, approved)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	s.Invalidate(ctx, id)
	return nil
}

func (s *TenantService) List(ctx context.Context, limit, offset int) ([]models.Tenant, int64, error) {
	tenants, err := s.repository.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repository.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return tenants, total, nil
}

// Drops the cached copy, e.g. after a credit changed the balance.
func (s *TenantService) Invalidate(ctx context.Context, id uuid.UUID) {
	s.cache.del(ctx, tenantCacheKey(id))
}

func (s *TenantService) checkTier(id *uuid.UUID) error {
	if id == nil || s.tiers == nil {
		return nil
	}
	if _, err := s.tiers.GetTier(*id); err != nil {
		return fmt.Errorf("%w: unknown tier %s", ErrInvalidInput, *id)
	}
	return nil
}
