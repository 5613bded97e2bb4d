package port

import (
	"context"
	"time"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
)

// RefreshTokenStore holds the single active refresh token per user.
// Set unconditionally overwrites the slot; the previous value is gone.
type RefreshTokenStore interface {
	Set(ctx context.Context, userID string, token string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

// TicketStore persists single-use verification and reset tickets with TTL.
type TicketStore interface {
	Store(ctx context.Context, kind domain.TicketKind, token string, ticket domain.Ticket, ttl time.Duration) error
	Get(ctx context.Context, kind domain.TicketKind, token string) (*domain.Ticket, error)
	Delete(ctx context.Context, kind domain.TicketKind, token string) error
}

// BlacklistStore records revoked token ids until their natural expiry.
type BlacklistStore interface {
	Add(ctx context.Context, jti string, reason string, ttl time.Duration) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// RateLimitStore exposes sliding-window attempt tracking for throttled endpoints.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}
