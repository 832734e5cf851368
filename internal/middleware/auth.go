package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const principalKey = "principal"

// Principal is the authenticated caller of a request.
type Principal struct {
	Tenant   *models.Tenant
	APIKeyID *uuid.UUID // set when authenticated with an API key
}

func (p *Principal) Role() string {
	return p.Tenant.Role
}

type TokenValidator interface {
	ValidateToken(token string) (*service.Identity, error)
}

type KeyValidator interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(id uuid.UUID)
}

type TenantLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// Authenticate accepts an X-API-Key header or a Bearer JWT and loads the tenant.
func Authenticate(tokens TokenValidator, keys KeyValidator, tenants TenantLoader, log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.auth")
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var (
			tenantID uuid.UUID
			keyID    *uuid.UUID
		)

		if apiKeyHeader := strings.TrimSpace(c.GetHeader("X-API-Key")); apiKeyHeader != "" {
			apiKey, err := keys.Validate(ctx, apiKeyHeader)
			if err != nil {
				log.Error("api key lookup failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
				return
			}
			if apiKey == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				return
			}
			tenantID = apiKey.TenantID
			id := apiKey.ID
			keyID = &id
			keys.UpdateLastUsed(id)
		} else {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header or X-API-Key required"})
				return
			}

			scheme, token, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid authorization header format. Use: Bearer <token>",
				})
				return
			}

			identity, err := tokens.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
				return
			}
			tenantID = identity.TenantID
		}

		tenant, err := tenants.Get(ctx, tenantID)
		if errors.Is(err, service.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unknown tenant"})
			return
		}
		if err != nil {
			log.Error("tenant lookup failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
			return
		}

		SetPrincipal(c, &Principal{Tenant: tenant, APIKeyID: keyID})
		c.Next()
	}
}

// RequireRole lets the request through only for the listed roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !slices.Contains(roles, p.Role()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok && p != nil && p.Tenant != nil
}

func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(principalKey, p)
}
