package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-churiwal/llm-gateway/internal/circuitbreaker"
)

var (
	ErrNoHealthyTargets = errors.New("upstream: no healthy targets")
	ErrCircuitOpen      = circuitbreaker.ErrCircuitOpen
	ErrEmptyResponse    = errors.New("upstream: empty choices in response")
)

// StatusError is a non-2xx answer from a target.
type StatusError struct {
	Target string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s returned %d: %s", e.Target, e.Code, e.Body)
}

// Retryable reports whether another attempt could succeed. Client errors (4xx other
// than 408 and 429) are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 408 || se.Code == 429
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// countsAsFailure reports whether err says something about the target's health.
func countsAsFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return err != nil && !errors.Is(err, context.Canceled)
}
