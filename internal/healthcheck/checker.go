package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Performs periodic health checks on upstream targets
type Checker struct {
	mu             sync.RWMutex
	targets        []string
	healthStatus   map[string]*Status
	healthyTargets []string
	endpoint       string
	interval       time.Duration
	timeout        time.Duration
	maxFailures    int
	client         *http.Client
	log            *zap.Logger
	stopChan       chan struct{}
	running        bool
}

type Config struct {
	Targets     []string
	Endpoint    string        // Health check path (default: "/health")
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Request timeout (default: 5s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
}

func NewChecker(cfg Config, client *http.Client, log *zap.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}

	checker := &Checker{
		targets:        append([]string(nil), cfg.Targets...),
		healthStatus:   make(map[string]*Status),
		healthyTargets: append([]string(nil), cfg.Targets...),
		endpoint:       cfg.Endpoint,
		interval:       cfg.Interval,
		timeout:        cfg.Timeout,
		maxFailures:    cfg.MaxFailures,
		client:         client,
		log:            log.Named("healthcheck"),
		stopChan:       make(chan struct{}),
	}

	now := time.Now()
	for _, target := range cfg.Targets {
		// healthy until proven otherwise
		checker.healthStatus[target] = &Status{
			Target:    target,
			IsHealthy: true,
			LastCheck: now,
		}
	}

	return checker
}

// Runs one check immediately and then every interval until Stop
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.log.Info("starting health checks",
		zap.Int("targets", len(c.targets)),
		zap.Duration("interval", c.interval),
	)

	c.CheckAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.log.Info("health checker stopped")
	}
}

// Checks every target concurrently and refreshes the healthy list
func (c *Checker) CheckAll() {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.checkTarget(t)
		}(target)
	}

	wg.Wait()
	c.updateHealthyTargets()
}

func (c *Checker) checkTarget(target string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.RecordFailure(target)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.RecordFailure(target)
		return
	}
	defer resp.Body.Close()

	// 2xx and 3xx are healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.RecordSuccess(target)
	} else {
		c.RecordFailure(target)
	}
}

func (c *Checker) RecordSuccess(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.healthStatus[target]
	if !ok {
		return
	}
	now := time.Now()
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0

	if !status.IsHealthy {
		c.log.Info("target is now healthy", zap.String("target", target))
		status.IsHealthy = true
	}
}

func (c *Checker) RecordFailure(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.healthStatus[target]
	if !ok {
		return
	}
	now := time.Now()
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.log.Warn("target is now unhealthy",
			zap.String("target", target),
			zap.Int("failures", status.FailureCount),
		)
		status.IsHealthy = false
	}
}

func (c *Checker) updateHealthyTargets() {
	c.mu.Lock()
	defer c.mu.Unlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.healthStatus[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}

	c.healthyTargets = healthy
}

// Returns a copy of the healthy targets
func (c *Checker) GetHealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make([]string, len(c.healthyTargets))
	copy(targets, c.healthyTargets)
	return targets
}

func (c *Checker) GetAllTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make([]string, len(c.targets))
	copy(targets, c.targets)
	return targets
}

func (c *Checker) GetStatus(target string) *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if status, exists := c.healthStatus[target]; exists {
		statusCopy := *status
		return &statusCopy
	}
	return nil
}

func (c *Checker) GetAllStatus() map[string]*Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statusMap := make(map[string]*Status, len(c.healthStatus))
	for target, status := range c.healthStatus {
		statusCopy := *status
		statusMap[target] = &statusCopy
	}
	return statusMap
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthyCount := len(c.healthyTargets)
	if healthyCount == 0 {
		return Unhealthy
	}
	if healthyCount < len(c.targets) {
		return Degraded
	}
	return Healthy
}
