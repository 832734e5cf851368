// Package gateway runs one completion call through validation, quota admission,
// the balance hold, the upstream call, metering and the ledger commit.
package gateway

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/configstore"
	"github.com/aman-churiwal/llm-gateway/internal/cost"
	"github.com/aman-churiwal/llm-gateway/internal/ledger"
	"github.com/aman-churiwal/llm-gateway/internal/metrics"
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/aman-churiwal/llm-gateway/internal/quota"
	"github.com/aman-churiwal/llm-gateway/internal/repository"
	"github.com/aman-churiwal/llm-gateway/internal/upstream"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Backend performs the model call. *upstream.Client implements it.
type Backend interface {
	Complete(ctx context.Context, req upstream.Request) (upstream.Response, error)
}

// Catalog is the read side of the config store used on the hot path.
type Catalog interface {
	GetModel(ref string) (models.Model, error)
	GetModelConfig(modelID uuid.UUID) (models.ModelConfig, error)
	ResolveTier(id *uuid.UUID) (models.Tier, error)
}

type Quota interface {
	Reserve(tenantID, modelID, tierID uuid.UUID, estimatedTokens int64) (quota.Reservation, error)
	Finalize(res quota.Reservation, usage quota.Usage) error
	Rollback(res quota.Reservation) error
}

type Ledger interface {
	Reserve(ctx context.Context, tenantID uuid.UUID, projected decimal.Decimal) (ledger.Hold, error)
	Commit(ctx context.Context, hold ledger.Hold, rec *models.Request) (*models.Request, error)
	Rollback(hold ledger.Hold)
}

// Records looks up already committed usage records.
type Records interface {
	FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.Request, error)
}

type Config struct {
	UpstreamTimeout  time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	MaxBackoff       time.Duration
	DefaultMaxTokens int64
	CommitTimeout    time.Duration
	// HoldInputFactor scales the estimated input tokens when sizing the balance
	// hold, so upstream counts above the estimate still fit. At least 1.
	HoldInputFactor float64
}

func DefaultConfig() Config {
	return Config{
		UpstreamTimeout:  60 * time.Second,
		MaxRetries:       2,
		RetryBackoff:     200 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		DefaultMaxTokens: 256,
		CommitTimeout:    10 * time.Second,
		HoldInputFactor:  1.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = d.UpstreamTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxBackoff < c.RetryBackoff {
		c.MaxBackoff = c.RetryBackoff
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = d.DefaultMaxTokens
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	switch {
	case c.HoldInputFactor <= 0:
		c.HoldInputFactor = d.HoldInputFactor
	case c.HoldInputFactor < 1:
		c.HoldInputFactor = 1
	}
	return c
}

// CompletionRequest is one call on behalf of an authenticated tenant.
type CompletionRequest struct {
	TenantID           uuid.UUID
	TierID             *uuid.UUID
	FreeAccessApproved bool

	Model          string
	Prompt         string
	MaxTokens      int64
	IdempotencyKey string
}

// Result is the outcome of a committed call. Replayed is set when the record was
// committed by an earlier call with the same idempotency key; Content is empty then.
type Result struct {
	Record   *models.Request
	Model    models.Model
	Content  string
	Replayed bool
}

// Metric label for calls rejected before the model is known.
const unknownModel = "unknown"

type Dispatcher struct {
	catalog Catalog
	quota   Quota
	ledger  Ledger
	records Records
	backend Backend
	cfg     Config
	log     *zap.Logger
}

func NewDispatcher(catalog Catalog, q Quota, l Ledger, records Records, backend Backend, cfg Config, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		catalog: catalog,
		quota:   q,
		ledger:  l,
		records: records,
		backend: backend,
		cfg:     cfg.withDefaults(),
		log:     log.Named("gateway.dispatcher"),
	}
}

// Complete runs a completion call end to end. Every failure is a *Error.
func (d *Dispatcher) Complete(ctx context.Context, req CompletionRequest) (*Result, error) {
	log := d.log.With(
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("model", req.Model),
	)

	// Validating
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, d.fail(unknownModel, newError(KindInvalidRequest, "prompt is required", nil))
	}
	if req.MaxTokens < 0 {
		return nil, d.fail(unknownModel, newError(KindInvalidRequest, "max_tokens must not be negative", nil))
	}

	model, err := d.catalog.GetModel(req.Model)
	if err != nil {
		return nil, d.fail(unknownModel, newError(KindInvalidRequest, "unknown model", err))
	}
	cfg, err := d.catalog.GetModelConfig(model.ID)
	if err != nil {
		return nil, d.fail(model.Name, newError(KindInvalidRequest, "model is not configured", err))
	}
	if !cfg.IsEnabled {
		return nil, d.fail(model.Name, newError(KindInvalidRequest, "model is disabled", nil))
	}
	tier, err := d.catalog.ResolveTier(req.TierID)
	if err != nil {
		return nil, d.fail(model.Name, newError(KindInvalidRequest, "tenant has no tier", err))
	}

	var idemKey *string
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		idemKey = &key

		existing, err := d.records.FindByIdempotencyKey(ctx, req.TenantID, key)
		if err != nil {
			return nil, d.fail(model.Name, newError(KindPersistenceError, "idempotency lookup failed", err))
		}
		if existing != nil {
			metrics.CompletionsTotal.WithLabelValues(model.Name, "replayed").Inc()
			return &Result{Record: existing, Model: model, Replayed: true}, nil
		}
	}

	waiver := cost.Waiver{TierFree: tier.IsFree, Approved: req.FreeAccessApproved}
	estimate := EstimateTokens(req.Prompt)
	maxOutput := req.MaxTokens
	if maxOutput == 0 {
		maxOutput = d.cfg.DefaultMaxTokens
	}

	// QuotaReserved
	res, err := d.quota.Reserve(req.TenantID, model.ID, tier.ID, estimate)
	if err != nil {
		var denied *quota.DeniedError
		if errors.As(err, &denied) {
			metrics.QuotaDeniedTotal.WithLabelValues(model.Name, string(denied.Kind)).Inc()
			log.Info("quota denied",
				zap.String("limit_kind", string(denied.Kind)),
				zap.Int64("limit", denied.Limit),
				zap.Int64("current", denied.Current),
				zap.Duration("retry_after", denied.RetryAfter),
			)
			return nil, d.fail(model.Name, &Error{
				Kind:       KindRateLimited,
				Message:    "rate limit exceeded",
				LimitKind:  denied.Kind,
				RetryAfter: denied.RetryAfter,
				Err:        err,
			})
		}
		return nil, d.fail(model.Name, newError(KindPersistenceError, "quota reservation failed", err))
	}

	holdInput := int64(math.Ceil(float64(estimate) * d.cfg.HoldInputFactor))
	projected := cost.Project(cfg, holdInput, maxOutput, waiver)
	hold, err := d.ledger.Reserve(ctx, req.TenantID, projected)
	if err != nil {
		d.rollbackQuota(log, res)
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			log.Info("insufficient balance", zap.String("projected_cost", projected.StringFixed(cost.Precision)))
			return nil, d.fail(model.Name, newError(KindInsufficientBalance, "insufficient balance", err))
		case errors.Is(err, ledger.ErrTenantNotFound):
			return nil, d.fail(model.Name, newError(KindInvalidRequest, "unknown tenant", err))
		default:
			return nil, d.fail(model.Name, newError(KindPersistenceError, "balance hold failed", err))
		}
	}

	// ModelCalled
	resp, err := d.call(ctx, model, upstream.Request{
		Model:     model.ExternalID,
		Prompt:    req.Prompt,
		MaxTokens: maxOutput,
	})
	if err != nil {
		d.rollbackQuota(log, res)
		d.ledger.Rollback(hold)

		kind := KindUpstreamError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindUpstreamTimeout
		}
		log.Warn("upstream call failed", zap.String("kind", string(kind)), zap.Error(err))
		return nil, d.fail(model.Name, newError(kind, "upstream call failed", err))
	}

	// Metered
	inputTokens := resp.InputTokens
	if inputTokens <= 0 {
		inputTokens = estimate
	}
	outputTokens := max(resp.OutputTokens, 0)
	breakdown := cost.Calculate(cfg, inputTokens, outputTokens, waiver)

	if err := d.quota.Finalize(res, quota.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}); err != nil {
		log.Warn("quota finalize failed", zap.String("reservation_id", res.ID), zap.Error(err))
	}

	// Committed
	rec := &models.Request{
		TenantID:       req.TenantID,
		ModelID:        model.ID,
		IdempotencyKey: idemKey,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		InputCost:      breakdown.InputCost,
		OutputCost:     breakdown.OutputCost,
		TotalCost:      breakdown.TotalCost,
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CommitTimeout)
	defer cancel()

	committed, err := d.ledger.Commit(commitCtx, hold, rec)
	if err != nil {
		d.rollbackQuota(log, res)
		d.ledger.Rollback(hold)

		kind := KindPersistenceError
		reason := "persistence"
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			kind = KindInsufficientBalance
			reason = "insufficient_balance"
		}
		metrics.ReconciliationTotal.WithLabelValues(reason).Inc()
		log.Error("ledger commit failed",
			zap.Bool("reconciliation", true),
			zap.String("reconciliation_reason", reason),
			zap.String("model_id", model.ID.String()),
			zap.Int64("input_tokens", inputTokens),
			zap.Int64("output_tokens", outputTokens),
			zap.String("input_cost", breakdown.InputCost.StringFixed(cost.Precision)),
			zap.String("output_cost", breakdown.OutputCost.StringFixed(cost.Precision)),
			zap.String("total_cost", breakdown.TotalCost.StringFixed(cost.Precision)),
			zap.Error(err),
		)
		return nil, d.fail(model.Name, newError(kind, "usage could not be recorded", err))
	}

	replayed := committed != rec
	outcome := "ok"
	if replayed {
		outcome = "replayed"
	} else {
		metrics.TokensTotal.WithLabelValues(model.Name, "input").Add(float64(inputTokens))
		metrics.TokensTotal.WithLabelValues(model.Name, "output").Add(float64(outputTokens))
		metrics.CostTotal.WithLabelValues(model.Name).Add(breakdown.TotalCost.InexactFloat64())
	}
	metrics.CompletionsTotal.WithLabelValues(model.Name, outcome).Inc()

	log.Debug("completion committed",
		zap.String("request_id", committed.ID.String()),
		zap.String("target", resp.Target),
		zap.Int64("input_tokens", inputTokens),
		zap.Int64("output_tokens", outputTokens),
		zap.String("total_cost", breakdown.TotalCost.StringFixed(cost.Precision)),
	)

	return &Result{
		Record:   committed,
		Model:    model,
		Content:  resp.Content,
		Replayed: replayed,
	}, nil
}

// call runs the backend under a context that outlives the caller but is bounded by
// the upstream timeout. Retries stop once the caller goes away.
func (d *Dispatcher) call(ctx context.Context, model models.Model, req upstream.Request) (upstream.Response, error) {
	backoff := d.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.UpstreamRetriesTotal.WithLabelValues(model.Name).Inc()
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return upstream.Response{}, lastErr
			case <-timer.C:
			}
			backoff = min(backoff*2, d.cfg.MaxBackoff)
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.UpstreamTimeout)
		resp, err := d.backend.Complete(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !upstream.Retryable(err) || ctx.Err() != nil {
			break
		}
		d.log.Debug("retrying upstream call",
			zap.String("model", model.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return upstream.Response{}, lastErr
}

func (d *Dispatcher) rollbackQuota(log *zap.Logger, res quota.Reservation) {
	if err := d.quota.Rollback(res); err != nil {
		log.Warn("quota rollback failed", zap.String("reservation_id", res.ID), zap.Error(err))
	}
}

func (d *Dispatcher) fail(model string, err *Error) *Error {
	metrics.CompletionsTotal.WithLabelValues(model, string(err.Kind)).Inc()
	return err
}

var (
	_ Catalog = (*configstore.Store)(nil)
	_ Quota   = (*quota.Tracker)(nil)
	_ Ledger  = (*ledger.Service)(nil)
	_ Records = (*repository.RequestRepository)(nil)
	_ Backend = (*upstream.Client)(nil)
)
