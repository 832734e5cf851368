package service

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carried by gateway bearer tokens. The subject is the tenant id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is what a valid token says about its holder.
type Identity struct {
	TenantID uuid.UUID
	Role     string
}

type AuthService struct {
	jwtSecret []byte // Stored in env (JWT_SECRET)
	issuer    string
	jwtExpiry time.Duration
	clock     clock.Clock
}

func NewAuthService(secret, issuer string, expiry time.Duration, clk clock.Clock) *AuthService {
	if clk == nil {
		clk = clock.Real()
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &AuthService{
		jwtSecret: []byte(secret),
		issuer:    issuer,
		jwtExpiry: expiry,
		clock:     clk,
	}
}

// Signs a token for the tenant. A ttl <= 0 uses the configured expiry.
func (s *AuthService) IssueToken(tenant *models.Tenant, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.jwtExpiry
	}
	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: tenant.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validates a JWT token and returns the identity it carries
func (s *AuthService) ValidateToken(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	tenantID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a tenant id", ErrInvalidToken)
	}

	return &Identity{TenantID: tenantID, Role: claims.Role}, nil
}
