package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/core/port"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no
// brokers are configured, typically in development.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: log}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}

	p.logger.Info("stub event published", append(base, fields...)...)
}

// PublishUserRegistered logs user.registered events. Token values are
// masked before hitting the log.
func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.logEvent(topicUserRegistered, event.UserID, event.RegisteredAt,
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.String("username", event.Username),
		zap.String("verification_token", logger.MaskString(event.VerificationToken)),
	)
	return nil
}

// PublishUserLoggedIn logs user.logged_in events.
func (p *StubPublisher) PublishUserLoggedIn(_ context.Context, event domain.UserLoggedInEvent) error {
	fields := []zap.Field{}
	if event.IPAddress != nil {
		fields = append(fields, zap.String("ip", logger.MaskIP(*event.IPAddress)))
	}
	p.logEvent(topicUserLoggedIn, event.UserID, event.LoggedInAt, fields...)
	return nil
}

// PublishEmailVerified logs email.verified events.
func (p *StubPublisher) PublishEmailVerified(_ context.Context, event domain.EmailVerifiedEvent) error {
	p.logEvent(topicEmailVerified, event.UserID, event.VerifiedAt,
		zap.String("email", logger.MaskEmail(event.Email)),
	)
	return nil
}

// PublishPasswordResetRequested logs password.reset_requested events.
func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.logEvent(topicPasswordResetRequested, event.UserID, event.RequestedAt,
		zap.String("destination", event.MaskedDestination),
		zap.String("reset_token", logger.MaskString(event.ResetToken)),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

// PublishPasswordChanged logs password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent(topicPasswordChanged, event.UserID, event.ChangedAt,
		zap.String("reason", event.Reason),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
