package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrUnauthorized          = errors.New("caller is not the account owner")
	ErrBadSignature          = errors.New("signature does not recover to owner")
	ErrDeadlineExpired       = errors.New("deadline expired")
	ErrStaleNonce            = errors.New("nonce does not match account replay nonce")
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrNoTarget              = errors.New("no strategy target configured")
	ErrFeeExceedsAmount      = errors.New("computed fee exceeds amount")
	ErrFeeRateTooHigh        = errors.New("fee rate exceeds 10000 bps")
	ErrReentrancy            = errors.New("reentrant call rejected")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrSlippageExceeded      = errors.New("swap output below minimum")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
)
