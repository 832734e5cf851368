package ledger

import "errors"

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrHoldNotFound        = errors.New("ledger: hold not found")
	ErrTenantNotFound      = errors.New("ledger: tenant not found")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
)
