package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const keyPrefix = "gw_"

// keyPrefix plus the first random characters, stored in clear for listings
const displayPrefixLen = len(keyPrefix) + 8

type APIKeyService struct {
	repository *repository.APIKeyRepository
	tenants    *repository.TenantRepository
	cache      jsonCache
	maxPerTenant int64
	log        *zap.Logger
}

func NewAPIKeyService(repo *repository.APIKeyRepository, tenants *repository.TenantRepository, redis *storage.RedisClient, maxPerTenant int64, log *zap.Logger) *APIKeyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyService{
		repository: repo,
		tenants:    tenants,
		cache:      jsonCache{redis: redis, ttl: 5 * time.Minute, log: log.Named("apikey.cache")},
		maxPerTenant: maxPerTenant,
		log:        log.Named("apikey.service"),
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func apiKeyCacheKey(hash string) string {
	return fmt.Sprintf("apikey:cache:%s", hash)
}

// Creates a key for the tenant. The plain key is returned only here.
func (s *APIKeyService) Create(ctx context.Context, tenantID uuid.UUID, name string) (string, *models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}
	if tenant == nil {
		return "", nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}

	if s.maxPerTenant > 0 {
		n, err := s.repository.CountByTenant(ctx, tenantID)
		if err != nil {
			return "", nil, err
		}
		if n >= s.maxPerTenant {
			return "", nil, fmt.Errorf("%w: tenant already has %d active keys", ErrInvalidInput, n)
		}
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	key := keyPrefix + base64.RawURLEncoding.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		KeyHash:   hashKey(key),
		KeyPrefix: key[:displayPrefixLen],
		Name:      name,
		TenantID:  tenantID,
		IsActive:  true,
	}
	if err := s.repository.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, apiKey, nil
}

// Returns the active key matching the plain key, or nil.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	if !strings.HasPrefix(key, keyPrefix) {
		return nil, nil
	}
	hash := hashKey(key)

	var cached models.APIKey
	if s.cache.get(ctx, apiKeyCacheKey(hash), &cached) {
		cached.KeyHash = hash
		return &cached, nil
	}

	apiKey, err := s.repository.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	s.cache.set(ctx, apiKeyCacheKey(hash), apiKey)
	return apiKey, nil
}

// A nil tenant lists every key.
func (s *APIKeyService) List(ctx context.Context, tenantID *uuid.UUID) ([]models.APIKey, error) {
	return s.repository.List(ctx, tenantID)
}

// Deactivates a key and evicts it from the cache.
func (s *APIKeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if apiKey == nil {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}

	if err := s.repository.Deactivate(ctx, id); err != nil {
		return err
	}
	s.cache.del(ctx, apiKeyCacheKey(apiKey.KeyHash))
	return nil
}

// Records key usage off the request path.
func (s *APIKeyService) UpdateLastUsed(id uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
			s.log.Debug("last_used update failed", zap.String("key_id", id.String()), zap.Error(err))
		}
	}()
}
