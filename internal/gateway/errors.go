package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/quota"
)

type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindRateLimited         Kind = "rate_limited"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindUpstreamError       Kind = "upstream_error"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindPersistenceError    Kind = "persistence_error"
)

// Error is the structured failure of a completion call.
type Error struct {
	Kind    Kind
	Message string

	// Set for KindRateLimited.
	LimitKind  quota.LimitKind
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a dispatcher error, or "" for anything else.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
