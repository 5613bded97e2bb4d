package port

import (
	"context"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
)

// EventPublisher delivers auth lifecycle events to downstream consumers
// (notification senders, audit pipelines). Publishing is fire-and-forget from
// the usecases' perspective: failures are logged, never surfaced to callers.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishUserLoggedIn(ctx context.Context, event domain.UserLoggedInEvent) error
	PublishEmailVerified(ctx context.Context, event domain.EmailVerifiedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
}
