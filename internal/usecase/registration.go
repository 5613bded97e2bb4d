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

const verificationTokenBytes = 32

// RegisterInput captures the fields accepted at registration.
type RegisterInput struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// Register creates an account, stores a single-use verification ticket,
// and announces the registration. A duplicate email fails before any
// cache state is written.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.PublicUser, error) {
	email := normalizeEmail(input.Email)
	username := strings.TrimSpace(input.Username)

	if email == "" {
		return nil, errors.New("email is required")
	}
	if username == "" {
		return nil, errors.New("username is required")
	}

	if err := s.passwordValidator.Validate(input.Password); err != nil {
		return nil, err
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken, err := security.GenerateSecureToken(verificationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	now := s.now().UTC()
	user := domain.User{
		ID:                newID(),
		Email:             email,
		Username:          username,
		FirstName:         strings.TrimSpace(input.FirstName),
		LastName:          strings.TrimSpace(input.LastName),
		PasswordHash:      hash,
		Role:              domain.RoleUser,
		VerificationToken: &verificationToken,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	ticket := domain.Ticket{UserID: user.ID, Email: user.Email, CreatedAt: now}
	if err := s.tickets.Store(ctx, domain.TicketEmailVerification, verificationToken, ticket, domain.VerificationTicketTTL); err != nil {
		return nil, fmt.Errorf("store verification ticket: %w", err)
	}

	if err := s.events.PublishUserRegistered(ctx, domain.UserRegisteredEvent{
		UserID:            user.ID,
		Email:             user.Email,
		Username:          user.Username,
		RegisteredAt:      now,
		VerificationToken: verificationToken,
		VerificationTTL:   domain.VerificationTicketTTL,
	}); err != nil {
		s.logger.Warn("publish user registered",
			zap.String("user_id", user.ID),
			zap.String("email", logger.MaskEmail(user.Email)),
			zap.Error(err),
		)
	}

	publicUser := user.Public()
	return &publicUser, nil
}

// VerifyEmail redeems a verification ticket. The ticket is consumed only
// after the account is marked verified, so a failed flip leaves the link
// usable.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	ticket, err := s.tickets.Get(ctx, domain.TicketEmailVerification, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load verification ticket: %w", err)
	}

	if err := s.users.MarkVerified(ctx, ticket.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("mark verified: %w", err)
	}

	if err := s.tickets.Delete(ctx, domain.TicketEmailVerification, token); err != nil {
		return fmt.Errorf("consume verification ticket: %w", err)
	}

	if err := s.events.PublishEmailVerified(ctx, domain.EmailVerifiedEvent{
		UserID:     ticket.UserID,
		Email:      ticket.Email,
		VerifiedAt: s.now().UTC(),
	}); err != nil {
		s.logger.Warn("publish email verified", zap.String("user_id", ticket.UserID), zap.Error(err))
	}

	return nil
}
