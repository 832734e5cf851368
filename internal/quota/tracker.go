// Package quota enforces per-(tenant, model) request and token limits over
// fixed minute and day windows.
package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reservation is the admission of one call. It is passed back to Finalize or Rollback.
type Reservation struct {
	ID              string
	TenantID        uuid.UUID
	ModelID         uuid.UUID
	TierID          uuid.UUID
	EstimatedTokens int64
	CreatedAt       time.Time
}

// Usage is the token count reported by the upstream for a completed call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Snapshot is a consistent read of one key's counters.
type Snapshot struct {
	Limits         Limits    `json:"limits"`
	RequestsMinute int64     `json:"requests_minute"`
	RequestsDay    int64     `json:"requests_day"`
	TokensMinute   int64     `json:"tokens_minute"`
	TokensDay      int64     `json:"tokens_day"`
	MinuteResetAt  time.Time `json:"minute_reset_at"`
	DayResetAt     time.Time `json:"day_reset_at"`
}

type cellKey struct {
	tenant uuid.UUID
	model  uuid.UUID
}

type limitKey struct {
	model uuid.UUID
	tier  uuid.UUID
}

type Tracker struct {
	source LimitSource
	clock  clock.Clock
	log    *zap.Logger

	cells sync.Map // cellKey -> *cell

	limits     sync.Map // limitKey -> Limits
	limitsGen  atomic.Uint64
	cellsCount atomic.Int64

	// called between loading a cell and locking it; tests only
	afterLoad func()
}

func NewTracker(source LimitSource, clk clock.Clock, log *zap.Logger) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		source: source,
		clock:  clk,
		log:    log.Named("quota"),
	}
}

// Reserve admits a call if every finite limit has room for one more request and
// the estimated input tokens. Either all counters move or none do.
func (t *Tracker) Reserve(tenantID, modelID, tierID uuid.UUID, estimatedTokens int64) (Reservation, error) {
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}

	limits := t.resolveLimits(modelID, tierID)
	now := t.clock.Now()
	c := t.lockedCell(tenantID, modelID)
	defer c.mu.Unlock()

	c.advance(now)

	if denied := c.check(limits, estimatedTokens, now); denied != nil {
		return Reservation{}, denied
	}

	c.minute.requests++
	c.day.requests++
	c.minute.tokens += estimatedTokens
	c.day.tokens += estimatedTokens

	res := Reservation{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		ModelID:         modelID,
		TierID:          tierID,
		EstimatedTokens: estimatedTokens,
		CreatedAt:       now,
	}
	c.entries[res.ID] = &entry{
		estimated:   estimatedTokens,
		minuteStart: c.minute.start,
		dayStart:    c.day.start,
		expiresAt:   c.day.start.Add(dayWindow),
	}

	return res, nil
}

// Finalize charges the actual token usage of a completed call against the token
// counters. Counters may end above their limit until the window resets.
func (t *Tracker) Finalize(res Reservation, usage Usage) error {
	c, ok := t.lookup(res.TenantID, res.ModelID)
	if !ok {
		return ErrUnknownReservation
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[res.ID]
	if !ok {
		return ErrUnknownReservation
	}
	if e.state != statePending {
		return nil
	}

	input := usage.InputTokens
	if input <= 0 {
		input = e.estimated
	}
	delta := input - e.estimated + usage.OutputTokens

	c.advance(t.clock.Now())
	c.minute.adjustTokens(delta, e.minuteStart)
	c.day.adjustTokens(delta, e.dayStart)

	e.state = stateFinalized
	return nil
}

// Rollback returns the request slot of a call that did not complete. A pending
// reservation also gives back its estimated tokens; a finalized one keeps its
// tokens billed. Calling Rollback again is a no-op.
func (t *Tracker) Rollback(res Reservation) error {
	c, ok := t.lookup(res.TenantID, res.ModelID)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[res.ID]
	if !ok || e.requestsReleased {
		return nil
	}

	c.advance(t.clock.Now())

	c.minute.releaseRequest(e.minuteStart)
	c.day.releaseRequest(e.dayStart)
	e.requestsReleased = true

	if e.state == statePending {
		c.minute.adjustTokens(-e.estimated, e.minuteStart)
		c.day.adjustTokens(-e.estimated, e.dayStart)
		e.state = stateRolledBack
	}

	return nil
}

// Usage returns the current counters of a key together with its limits.
func (t *Tracker) Usage(tenantID, modelID, tierID uuid.UUID) Snapshot {
	limits := t.resolveLimits(modelID, tierID)
	now := t.clock.Now()

	var c *cell
	for {
		var ok bool
		c, ok = t.lookup(tenantID, modelID)
		if !ok {
			return Snapshot{
				Limits:        limits,
				MinuteResetAt: now.Truncate(minuteWindow).Add(minuteWindow),
				DayResetAt:    now.Truncate(dayWindow).Add(dayWindow),
			}
		}
		c.mu.Lock()
		if !c.retired {
			break
		}
		c.mu.Unlock()
		if t.cells.CompareAndDelete(cellKey{tenant: tenantID, model: modelID}, c) {
			t.cellsCount.Add(-1)
		}
	}
	defer c.mu.Unlock()

	c.advance(now)

	return Snapshot{
		Limits:         limits,
		RequestsMinute: c.minute.requests,
		RequestsDay:    c.day.requests,
		TokensMinute:   c.minute.tokens,
		TokensDay:      c.day.tokens,
		MinuteResetAt:  c.minute.start.Add(minuteWindow),
		DayResetAt:     c.day.start.Add(dayWindow),
	}
}

// InvalidateLimits drops cached limits for a (model, tier) pair. A nil tier drops
// every tier of the model.
func (t *Tracker) InvalidateLimits(modelID, tierID uuid.UUID) {
	t.limitsGen.Add(1)

	if tierID != uuid.Nil {
		t.limits.Delete(limitKey{model: modelID, tier: tierID})
		return
	}

	t.limits.Range(func(k, _ any) bool {
		if lk := k.(limitKey); lk.model == modelID {
			t.limits.Delete(lk)
		}
		return true
	})
}

// Prune removes reservations older than their day window and cells left idle.
func (t *Tracker) Prune(now time.Time) int {
	removed := 0

	t.cells.Range(func(k, v any) bool {
		c := v.(*cell)

		c.mu.Lock()
		for id, e := range c.entries {
			if !now.Before(e.expiresAt) {
				delete(c.entries, id)
			}
		}
		idle := len(c.entries) == 0 && now.Sub(c.day.start) >= dayWindow
		if idle {
			// lockedCell skips a retired cell and loads a fresh one.
			c.retired = true
		}
		c.mu.Unlock()

		if idle && t.cells.CompareAndDelete(k, c) {
			t.cellsCount.Add(-1)
			removed++
		}
		return true
	})

	return removed
}

// Run prunes on every tick until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := t.Prune(t.clock.Now()); n > 0 {
				t.log.Debug("pruned idle quota cells", zap.Int("removed", n), zap.Int64("remaining", t.cellsCount.Load()))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) resolveLimits(modelID, tierID uuid.UUID) Limits {
	lk := limitKey{model: modelID, tier: tierID}
	if v, ok := t.limits.Load(lk); ok {
		return v.(Limits)
	}

	gen := t.limitsGen.Load()

	limits := Unlimited
	if t.source != nil {
		if rl, found := t.source.GetRateLimit(modelID, tierID); found {
			limits = LimitsFrom(rl)
		}
	}

	if t.limitsGen.Load() == gen {
		t.limits.Store(lk, limits)
	}
	return limits
}

// lockedCell returns the live cell of a key with its mutex held, creating it on
// first use. The caller unlocks.
func (t *Tracker) lockedCell(tenantID, modelID uuid.UUID) *cell {
	k := cellKey{tenant: tenantID, model: modelID}
	for {
		v, loaded := t.cells.LoadOrStore(k, newCell())
		if !loaded {
			t.cellsCount.Add(1)
		}
		c := v.(*cell)
		if t.afterLoad != nil {
			t.afterLoad()
		}

		c.mu.Lock()
		if !c.retired {
			return c
		}
		c.mu.Unlock()

		if t.cells.CompareAndDelete(k, c) {
			t.cellsCount.Add(-1)
		}
	}
}

func (t *Tracker) lookup(tenantID, modelID uuid.UUID) (*cell, bool) {
	v, ok := t.cells.Load(cellKey{tenant: tenantID, model: modelID})
	if !ok {
		return nil, false
	}
	return v.(*cell), true
}
