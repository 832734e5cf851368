package quota

import (
	"sync"
	"time"
)

type entryState int

const (
	statePending entryState = iota
	stateFinalized
	stateRolledBack
)

type entry struct {
	estimated        int64
	minuteStart      time.Time
	dayStart         time.Time
	expiresAt        time.Time
	state            entryState
	requestsReleased bool
}

type window struct {
	size     time.Duration
	start    time.Time
	requests int64
	tokens   int64
}

// advance resets the window once now is at least one size past its start.
// Windows are aligned to UTC boundaries.
func (w *window) advance(now time.Time) {
	if now.Sub(w.start) < w.size {
		return
	}
	w.start = now.UTC().Truncate(w.size)
	w.requests = 0
	w.tokens = 0
}

func (w *window) resetsIn(now time.Time) time.Duration {
	d := w.start.Add(w.size).Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

// adjustTokens applies a positive delta to the current window. A negative delta
// only corrects the window the reservation was counted in.
func (w *window) adjustTokens(delta int64, reservedIn time.Time) {
	if delta >= 0 {
		w.tokens += delta
		return
	}
	if !w.start.Equal(reservedIn) {
		return
	}
	w.tokens += delta
	if w.tokens < 0 {
		w.tokens = 0
	}
}

func (w *window) releaseRequest(reservedIn time.Time) {
	if !w.start.Equal(reservedIn) || w.requests == 0 {
		return
	}
	w.requests--
}

type cell struct {
	mu      sync.Mutex
	minute  window
	day     window
	entries map[string]*entry
	retired bool
}

func newCell() *cell {
	return &cell{
		minute:  window{size: minuteWindow},
		day:     window{size: dayWindow},
		entries: make(map[string]*entry),
	}
}

func (c *cell) advance(now time.Time) {
	c.minute.advance(now)
	c.day.advance(now)
}

// check reports the first limit that one more request carrying tokens would exceed.
func (c *cell) check(l Limits, tokens int64, now time.Time) *DeniedError {
	if l.RequestsPerMinute > 0 && c.minute.requests+1 > l.RequestsPerMinute {
		return &DeniedError{Kind: RequestsPerMinute, Limit: l.RequestsPerMinute, Current: c.minute.requests, RetryAfter: c.minute.resetsIn(now)}
	}
	if l.RequestsPerDay > 0 && c.day.requests+1 > l.RequestsPerDay {
		return &DeniedError{Kind: RequestsPerDay, Limit: l.RequestsPerDay, Current: c.day.requests, RetryAfter: c.day.resetsIn(now)}
	}
	if l.TokensPerMinute > 0 && c.minute.tokens+tokens > l.TokensPerMinute {
		return &DeniedError{Kind: TokensPerMinute, Limit: l.TokensPerMinute, Current: c.minute.tokens, RetryAfter: c.minute.resetsIn(now)}
	}
	if l.TokensPerDay > 0 && c.day.tokens+tokens > l.TokensPerDay {
		return &DeniedError{Kind: TokensPerDay, Limit: l.TokensPerDay, Current: c.day.tokens, RetryAfter: c.day.resetsIn(now)}
	}
	return nil
}
