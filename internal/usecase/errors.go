package usecase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials indicates the provided email or password is incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailExists indicates registration collided with an existing account.
	ErrEmailExists = errors.New("email already registered")
	// ErrEmailNotVerified indicates login requires a verified email first.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountDisabled indicates the account has been deactivated.
	ErrAccountDisabled = errors.New("account is disabled")
	// ErrInvalidToken indicates a token or ticket is malformed, expired,
	// already consumed, or superseded.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// AccountLockedError reports a login attempt against a locked account
// together with how long the lock still lasts.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("account locked, retry in %s", e.RetryAfter.Round(time.Second))
	}
	return "account locked"
}

// RateLimitExceededError reports that a throttled endpoint refused the
// attempt. RetryAfter is zero when no estimate is available.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry in %s", e.Scope, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Scope)
}
