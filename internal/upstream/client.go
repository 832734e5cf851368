// Package upstream calls OpenAI-compatible completion backends spread over several
// targets, with load balancing, per-target circuit breakers and active health checks.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/llm-gateway/internal/healthcheck"
	"github.com/aman-churiwal/llm-gateway/internal/loadbalancer"
	"github.com/aman-churiwal/llm-gateway/internal/metrics"
	"go.uber.org/zap"
)

// Request is one completion call. Model is the provider-side model id.
type Request struct {
	Model     string
	Prompt    string
	MaxTokens int64
}

// Response carries the generated content and the token usage reported by the target.
type Response struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
	Model        string
	Target       string
}

type Config struct {
	Targets              []string
	APIKey               string
	CompletionPath       string
	LoadBalancerStrategy string
	CircuitBreaker       circuitbreaker.Config
	HealthCheck          healthcheck.Config
	// Disables the background health checker; every target is treated as healthy.
	DisableHealthCheck bool
}

type Client struct {
	targets        []string
	apiKey         string
	completionPath string
	httpClient     *http.Client
	breakers       map[string]*circuitbreaker.CircuitBreaker
	loadBalancer   loadbalancer.Strategy
	healthChecker  *healthcheck.Checker
	log            *zap.Logger
}

func New(cfg Config, httpClient *http.Client, log *zap.Logger) (*Client, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one upstream target is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CompletionPath == "" {
		cfg.CompletionPath = "/v1/chat/completions"
	}

	lb, err := loadbalancer.NewStrategy(cfg.LoadBalancerStrategy)
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(cfg.Targets))
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Targets))
	for _, raw := range cfg.Targets {
		target := strings.TrimRight(raw, "/")
		if _, err := url.ParseRequestURI(target); err != nil {
			return nil, fmt.Errorf("invalid upstream target %q: %w", raw, err)
		}

		targets = append(targets, target)
		breakers[target] = circuitbreaker.New(target, cfg.CircuitBreaker,
			circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
				metrics.CircuitState.WithLabelValues(name).Set(float64(to))
				log.Warn("circuit breaker state changed",
					zap.String("target", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}),
		)
	}

	cfg.HealthCheck.Targets = targets
	hc := healthcheck.NewChecker(cfg.HealthCheck, httpClient, log)
	if !cfg.DisableHealthCheck {
		hc.Start()
	}

	c := &Client{
		targets:        targets,
		apiKey:         cfg.APIKey,
		completionPath: cfg.CompletionPath,
		httpClient:     httpClient,
		breakers:       breakers,
		loadBalancer:   lb,
		healthChecker:  hc,
		log:            log.Named("upstream"),
	}

	c.log.Info("upstream client initialized",
		zap.Int("targets", len(targets)),
		zap.String("strategy", lb.Name()),
	)

	return c, nil
}

// Complete sends req to one healthy target. It makes a single attempt; retries are the caller's.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	healthy := c.healthChecker.GetHealthyTargets()
	if len(healthy) == 0 {
		return Response{}, ErrNoHealthyTargets
	}

	target, done := loadbalancer.Pick(c.loadBalancer, healthy)
	defer done()

	breaker, ok := c.breakers[target]
	if !ok {
		return Response{}, fmt.Errorf("upstream: unknown target %q", target)
	}

	var (
		resp    Response
		callErr error
	)
	start := time.Now()

	err := breaker.Call(func() error {
		resp, callErr = c.do(ctx, target, req)
		if countsAsFailure(callErr) {
			return callErr
		}
		return nil
	})

	metrics.UpstreamLatencyMs.WithLabelValues(target, outcome(callErr)).
		Observe(float64(time.Since(start).Milliseconds()))

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return Response{}, fmt.Errorf("upstream %s: %w", target, ErrCircuitOpen)
	}
	if callErr != nil {
		c.log.Warn("upstream call failed", zap.String("target", target), zap.Error(callErr))
		return Response{}, callErr
	}

	return resp, nil
}

// OpenAI chat completion wire format
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens *int64        `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) do(ctx context.Context, target string, req Request) (Response, error) {
	body := chatRequest{
		Model:    req.Model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("upstream: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target+c.completionPath, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("upstream: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("upstream %s: %w", target, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return Response{}, &StatusError{Target: target, Code: httpResp.StatusCode, Body: string(snippet)}
	}

	var decoded chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return Response{}, fmt.Errorf("upstream %s: decode response: %w", target, err)
	}
	if len(decoded.Choices) == 0 {
		return Response{}, ErrEmptyResponse
	}

	return Response{
		Content:      decoded.Choices[0].Message.Content,
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
		Model:        decoded.Model,
		Target:       target,
	}, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var se *StatusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// Returns circuit breaker metrics per target
func (c *Client) CircuitBreakerMetrics() []circuitbreaker.Metrics {
	out := make([]circuitbreaker.Metrics, 0, len(c.targets))
	for _, t := range c.targets {
		out = append(out, c.breakers[t].Metrics())
	}
	return out
}

// Manually closes every circuit breaker
func (c *Client) ResetCircuitBreakers() {
	for _, cb := range c.breakers {
		cb.Reset()
	}
}

func (c *Client) GetHealthStatus() map[string]*healthcheck.Status {
	return c.healthChecker.GetAllStatus()
}

func (c *Client) OverallHealth() healthcheck.HealthStatus {
	return c.healthChecker.OverallHealth()
}

// Stops the health checker
func (c *Client) Stop() {
	c.healthChecker.Stop()
}
