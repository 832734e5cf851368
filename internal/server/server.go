package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/config"
	"github.com/aman-churiwal/llm-gateway/internal/configstore"
	"github.com/aman-churiwal/llm-gateway/internal/gateway"
	"github.com/aman-churiwal/llm-gateway/internal/handler"
	"github.com/aman-churiwal/llm-gateway/internal/healthcheck"
	"github.com/aman-churiwal/llm-gateway/internal/ledger"
	"github.com/aman-churiwal/llm-gateway/internal/metrics"
	"github.com/aman-churiwal/llm-gateway/internal/middleware"
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/quota"
	"github.com/aman-churiwal/llm-gateway/internal/ratelimit"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
	"github.com/aman-churiwal/llm-gateway/internal/service"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/aman-churiwal/llm-gateway/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	db         *storage.Database
	redis      *storage.RedisClient
	log        *zap.Logger
	httpServer *http.Server

	store    *configstore.Store
	tracker  *quota.Tracker
	ledger   *ledger.Service
	upstream *upstream.Client

	authService   *service.AuthService
	tenantService *service.TenantService
	apiKeyService *service.APIKeyService

	// stops background work started by New
	cancel context.CancelFunc
}

type Option func(*options)

type options struct {
	clock      clock.Clock
	httpClient *http.Client
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHTTPClient sets the client used for upstream calls and health checks.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New wires the gateway on top of an open database. redis may be nil; caches and
// the client rate limit are skipped then.
func New(ctx context.Context, cfg *config.Config, db *storage.Database, redis *storage.RedisClient, log *zap.Logger, opts ...Option) (*Server, error) {
	o := options{clock: clock.Real(), httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = zap.NewNop()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics.Register()

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	s := &Server{
		router: gin.New(),
		config: cfg,
		db:     db,
		redis:  redis,
		log:    log,
	}

	store := configstore.New(repository.NewConfigRepository(db),
		configstore.Config{Staleness: cfg.ConfigStore.Staleness.Std()}, o.clock, log)
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load configuration catalog: %w", err)
	}
	tracker := quota.NewTracker(store, o.clock, log)
	store.OnInvalidate(tracker.InvalidateLimits)

	up, err := upstream.New(upstream.Config{
		Targets:              cfg.Upstream.Targets,
		APIKey:               cfg.Upstream.APIKey,
		CompletionPath:       cfg.Upstream.CompletionPath,
		LoadBalancerStrategy: cfg.Upstream.LoadBalancerStrategy,
		CircuitBreaker: circuitbreaker.Config{
			MaxFailures:     cfg.Upstream.CircuitBreaker.MaxFailures,
			Timeout:         cfg.Upstream.CircuitBreaker.Timeout.Std(),
			HalfOpenSuccess: cfg.Upstream.CircuitBreaker.HalfOpenSuccess,
		},
		HealthCheck: healthcheck.Config{
			Endpoint:    cfg.Upstream.HealthCheck.Endpoint,
			Interval:    cfg.Upstream.HealthCheck.Interval.Std(),
			Timeout:     cfg.Upstream.HealthCheck.Timeout.Std(),
			MaxFailures: cfg.Upstream.HealthCheck.MaxFailures,
		},
		DisableHealthCheck: !cfg.Upstream.HealthCheck.Enabled,
	}, o.httpClient, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	s.store = store
	s.tracker = tracker
	s.ledger = ledger.NewService(db, o.clock, log)
	s.upstream = up

	requests := repository.NewRequestRepository(db)
	tenantRepo := repository.NewTenantRepository(db)

	s.authService = service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry.Std(), o.clock)
	s.tenantService = service.NewTenantService(tenantRepo, store, redis, log)
	s.apiKeyService = service.NewAPIKeyService(repository.NewAPIKeyRepository(db), tenantRepo, redis, cfg.Auth.MaxAPIKeysPerUser, log)
	usageService := service.NewUsageService(requests, store, tracker)

	dispatcher := gateway.NewDispatcher(store, tracker, s.ledger, requests, up, gateway.Config{
		UpstreamTimeout:  cfg.Gateway.UpstreamTimeout.Std(),
		MaxRetries:       cfg.Gateway.MaxRetries,
		RetryBackoff:     cfg.Gateway.RetryBackoff.Std(),
		MaxBackoff:       cfg.Gateway.MaxBackoff.Std(),
		DefaultMaxTokens: cfg.Gateway.DefaultMaxTokens,
		CommitTimeout:    cfg.Gateway.CommitTimeout.Std(),
		HoldInputFactor:  cfg.Gateway.HoldInputFactor,
	}, log)

	var limiter ratelimit.Limiter
	if cfg.ClientRateLimit.Enabled {
		if redis.Enabled() {
			limiter = ratelimit.NewLimiter(redis, cfg.ClientRateLimit.Algorithm,
				cfg.ClientRateLimit.RequestsPerWindow, cfg.ClientRateLimit.Window.Std(), o.clock)
		} else {
			log.Warn("client rate limit is enabled but redis is not configured; skipping it")
		}
	}

	s.setupMiddleware()
	s.setupRoutes(routes{
		completion: handler.NewCompletionHandler(dispatcher),
		usage:      handler.NewUsageHandler(usageService, store, s.ledger, o.clock),
		config:     handler.NewConfigHandler(store),
		tenants:    handler.NewTenantHandler(s.tenantService, s.ledger, s.authService),
		apiKeys:    handler.NewAPIKeyHandler(s.apiKeyService),
		system:     handler.NewSystemHandler(db, redis, up, log),
		limiter:    limiter,
		clock:      o.clock,
	})

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go tracker.Run(bgCtx, cfg.Quota.JanitorInterval.Std())

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(middleware.Logger(s.log))
	s.router.Use(middleware.Metrics())
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigins...))
}

type routes struct {
	completion *handler.CompletionHandler
	usage      *handler.UsageHandler
	config     *handler.ConfigHandler
	tenants    *handler.TenantHandler
	apiKeys    *handler.APIKeyHandler
	system     *handler.SystemHandler
	limiter    ratelimit.Limiter
	clock      clock.Clock
}

func (s *Server) setupRoutes(h routes) {
	s.router.GET("/health", h.system.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Authenticate(s.authService, s.apiKeyService, s.tenantService, s.log)

	v1 := s.router.Group("/v1", auth, middleware.ClientRateLimit(h.limiter, h.clock, s.log))
	{
		v1.POST("/completions", h.completion.Create)
		v1.GET("/usage", h.usage.List)
		v1.GET("/usage/summary", h.usage.Summary)
		v1.GET("/quota/:model", h.usage.Quota)
		v1.GET("/balance", h.usage.Balance)
	}

	admin := s.router.Group("/admin", auth, middleware.RequireRole(models.RoleAdmin, models.RoleSupport))
	{
		admin.GET("/tiers", h.config.ListTiers)
		admin.POST("/tiers", h.config.CreateTier)
		admin.PUT("/tiers/:id", h.config.UpdateTier)
		admin.DELETE("/tiers/:id", h.config.DeleteTier)

		admin.GET("/models", h.config.ListModels)
		admin.POST("/models", h.config.CreateModel)
		admin.PUT("/models/:id", h.config.UpdateModel)
		admin.DELETE("/models/:id", h.config.DeleteModel)

		admin.GET("/model-configs", h.config.ListModelConfigs)
		admin.POST("/model-configs", h.config.CreateModelConfig)
		admin.PUT("/model-configs/:id", h.config.UpdateModelConfig)
		admin.DELETE("/model-configs/:id", h.config.DeleteModelConfig)

		admin.GET("/rate-limits", h.config.ListRateLimits)
		admin.POST("/rate-limits", h.config.CreateRateLimit)
		admin.PUT("/rate-limits/:id", h.config.UpdateRateLimit)
		admin.DELETE("/rate-limits/:id", h.config.DeleteRateLimit)

		admin.GET("/users", h.tenants.List)
		admin.POST("/users", h.tenants.Create)
		admin.GET("/users/:id", h.tenants.Get)
		admin.PUT("/users/:id", h.tenants.Update)
		admin.POST("/users/:id/credit", middleware.RequireRole(models.RoleAdmin), h.tenants.Credit)
		admin.POST("/users/:id/token", middleware.RequireRole(models.RoleAdmin), h.tenants.IssueToken)
		admin.POST("/approve/:userId", h.tenants.Approve)

		admin.GET("/usage", h.usage.AdminList)
		admin.GET("/usage/summary", h.usage.AdminSummary)

		admin.GET("/keys", h.apiKeys.List)
		admin.POST("/keys", h.apiKeys.Create)
		admin.DELETE("/keys/:id", h.apiKeys.Revoke)

		admin.GET("/circuit-breakers", h.system.CircuitBreakerStatus)
		admin.POST("/circuit-breakers/reset", h.system.ResetCircuitBreakers)
		admin.GET("/upstreams", h.system.UpstreamHealth)
	}
}

// BootstrapAdmin makes sure an admin tenant with email exists and returns a token for it.
func (s *Server) BootstrapAdmin(ctx context.Context, email string) (string, time.Time, error) {
	tenant, err := s.tenantService.Create(ctx, models.RoleAdmin, service.CreateTenantInput{
		Email: email,
		Name:  "admin",
		Role:  models.RoleAdmin,
	})
	if errors.Is(err, service.ErrInvalidInput) {
		tenant, err = s.tenantService.FindByEmail(ctx, email)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if tenant.Role != models.RoleAdmin {
		return "", time.Time{}, fmt.Errorf("tenant %s exists with role %q", email, tenant.Role)
	}

	return s.authService.IssueToken(tenant, 0)
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout.Std(),
		WriteTimeout: s.config.Server.WriteTimeout.Std(),
		IdleTimeout:  s.config.Server.IdleTimeout.Std(),
	}

	s.log.Info("starting llm gateway",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
		zap.Int("upstream_targets", len(s.config.Upstream.Targets)),
		zap.Bool("redis", s.redis.Enabled()),
	)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then stops background work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.cancel()
	s.upstream.Stop()

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
