package port

import (
	"context"
	"time"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
)

// UserRepository exposes persistence behavior for user credential records.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByResetToken(ctx context.Context, token string) (*domain.User, error)
	MarkVerified(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id string, token string, expiresAt time.Time) error
	UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error
	RecordFailedLogin(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
	BumpTokenVersion(ctx context.Context, id string) (int64, error)
}

// UserMaintenanceRepository covers the periodic cleanup sweeps over user state.
type UserMaintenanceRepository interface {
	PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
	PurgeStaleVerificationTokens(ctx context.Context, issuedBefore time.Time) (int64, error)
	UnlockExpiredAccounts(ctx context.Context, now time.Time) (int64, error)
}
