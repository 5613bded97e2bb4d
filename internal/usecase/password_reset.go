package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/logger"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/security"
	"github.com/precisesoft/ConnectKit-sub002/internal/repository"
)

const (
	resetTokenBytes = 32

	passwordResetReason  = "reset"
	passwordChangeReason = "change"
)

// ForgotPassword starts the recovery flow. The outcome is identical
// whether or not the email belongs to an account, so the endpoint leaks
// nothing about registered addresses. The reset token travels on the
// published event; the service itself never sends mail.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	if err := s.enforceRateLimit(ctx, passwordResetRateLimitScope, email, s.cfg.RateLimit.PasswordResetMaxAttempts); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive {
		return nil
	}

	token, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(domain.ResetTicketTTL)

	if err := s.users.SetResetToken(ctx, user.ID, token, expiresAt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	ticket := domain.Ticket{UserID: user.ID, Email: user.Email, CreatedAt: now}
	if err := s.tickets.Store(ctx, domain.TicketPasswordReset, token, ticket, domain.ResetTicketTTL); err != nil {
		return fmt.Errorf("store reset ticket: %w", err)
	}

	if err := s.events.PublishPasswordResetRequested(ctx, domain.PasswordResetRequestedEvent{
		UserID:            user.ID,
		RequestedAt:       now,
		MaskedDestination: maskDestination(user.Email),
		ResetToken:        token,
		ExpiresAt:         expiresAt,
	}); err != nil {
		s.logger.Warn("publish password reset requested",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}

	return nil
}

// ResetPassword completes the recovery flow. The confirmation check runs
// before anything else so a mismatch leaves the ticket redeemable. On
// success the ticket is consumed, the password replaced, and every
// outstanding token for the account invalidated.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return ErrInvalidCredentials
	}

	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	if err := s.passwordValidator.Validate(newPassword); err != nil {
		return err
	}

	ticket, err := s.tickets.Get(ctx, domain.TicketPasswordReset, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load reset ticket: %w", err)
	}

	// The users table holds only the latest reset token, so a ticket
	// superseded by a newer ForgotPassword call dies here even though
	// its cache entry has not expired yet.
	user, err := s.users.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("lookup user by reset token: %w", err)
	}
	if user.ID != ticket.UserID {
		return ErrInvalidToken
	}

	if err := s.applyNewPassword(ctx, user.ID, newPassword, passwordResetReason); err != nil {
		return err
	}

	if err := s.tickets.Delete(ctx, domain.TicketPasswordReset, token); err != nil {
		return fmt.Errorf("consume reset ticket: %w", err)
	}

	return nil
}

// ChangePassword updates the password for an authenticated user after
// re-checking the current one. The confirmation check runs first, as it
// does for ResetPassword. All outstanding tokens are invalidated.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return ErrInvalidCredentials
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	ok, err := security.VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := s.passwordValidator.Validate(newPassword); err != nil {
		return err
	}

	return s.applyNewPassword(ctx, user.ID, newPassword, passwordChangeReason)
}

// applyNewPassword persists the hash and severs every live session:
// the token version bump invalidates issued JWTs and the refresh slot
// delete stops rotation.
func (s *AuthService) applyNewPassword(ctx context.Context, userID, newPassword, reason string) error {
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()

	if err := s.users.UpdatePassword(ctx, userID, hash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("update password: %w", err)
	}

	if _, err := s.users.BumpTokenVersion(ctx, userID); err != nil {
		return fmt.Errorf("bump token version: %w", err)
	}

	if err := s.refreshTokens.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete refresh slot: %w", err)
	}

	if err := s.events.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{
		UserID:    userID,
		ChangedAt: now,
		Reason:    reason,
	}); err != nil {
		s.logger.Warn("publish password changed", zap.String("user_id", userID), zap.Error(err))
	}

	return nil
}

func maskDestination(email string) string {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return ""
	}
	return logger.MaskEmail(trimmed)
}
