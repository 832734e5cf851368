package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/google/uuid"
)

type LimitKind string

const (
	RequestsPerMinute LimitKind = "requests_per_minute"
	RequestsPerDay    LimitKind = "requests_per_day"
	TokensPerMinute   LimitKind = "tokens_per_minute"
	TokensPerDay      LimitKind = "tokens_per_day"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Limits are the four caps applied to one (tenant, model) key. Values <= 0 are unlimited.
type Limits struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	RequestsPerDay    int64 `json:"requests_per_day"`
	TokensPerMinute   int64 `json:"tokens_per_minute"`
	TokensPerDay      int64 `json:"tokens_per_day"`
}

// Unlimited is applied when no rate limit is configured for a (model, tier) pair.
var Unlimited = Limits{}

func LimitsFrom(rl models.RateLimit) Limits {
	return Limits{
		RequestsPerMinute: rl.RequestsPerMinute,
		RequestsPerDay:    rl.RequestsPerDay,
		TokensPerMinute:   rl.TokensPerMinute,
		TokensPerDay:      rl.TokensPerDay,
	}
}

func (l Limits) IsUnlimited() bool {
	return l.RequestsPerMinute <= 0 && l.RequestsPerDay <= 0 && l.TokensPerMinute <= 0 && l.TokensPerDay <= 0
}

// LimitSource resolves the configured rate limit of a (model, tier) pair.
type LimitSource interface {
	GetRateLimit(modelID, tierID uuid.UUID) (models.RateLimit, bool)
}

var (
	ErrDenied             = errors.New("quota: limit exceeded")
	ErrUnknownReservation = errors.New("quota: unknown reservation")
)

// DeniedError is returned by Reserve when one of the counters would pass its limit.
type DeniedError struct {
	Kind       LimitKind
	Limit      int64
	Current    int64
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("quota: %s limit %d reached (current %d), retry after %s",
		e.Kind, e.Limit, e.Current, e.RetryAfter)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}
