package model

import "errors"

// Common errors used across the application
var (
	// Lookup errors
	ErrAccountNotFound = errors.New("account not found")

	// Uniqueness errors, never retried
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateEmail    = errors.New("email already taken")

	// Ledger errors
	ErrInsufficientCoins = errors.New("insufficient coins")
	ErrAccountDisabled   = errors.New("account is disabled")

	// Input errors
	ErrInvalidInput = errors.New("invalid input")

	// Transient errors, safe to retry with backoff
	ErrTimeout  = errors.New("storage transaction timed out")
	ErrConflict = errors.New("lock contention exceeded retry budget")
)
