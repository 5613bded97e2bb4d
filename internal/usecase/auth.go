package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/core/port"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/config"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/logger"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/security"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/telemetry"
	"github.com/precisesoft/ConnectKit-sub002/internal/repository"
)

const (
	loginRateLimitScope         = "login"
	passwordResetRateLimitScope = "password_reset"

	logoutBlacklistReason = "user_logout"
)

// AuthService coordinates the authentication workflows: registration,
// login, token rotation, password recovery, and session teardown.
type AuthService struct {
	cfg               *config.AppConfig
	users             port.UserRepository
	maintenance       port.UserMaintenanceRepository
	refreshTokens     port.RefreshTokenStore
	tickets           port.TicketStore
	blacklist         port.BlacklistStore
	rateLimits        port.RateLimitStore
	issuer            *security.TokenIssuer
	passwordValidator *security.PasswordValidator
	events            port.EventPublisher
	metrics           *telemetry.Provider
	logger            *zap.Logger
	now               func() time.Time
}

// AuthServiceDeps bundles the collaborators an AuthService needs.
// RateLimits and Metrics are optional; the corresponding checks are
// skipped when nil.
type AuthServiceDeps struct {
	Config            *config.AppConfig
	Users             port.UserRepository
	Maintenance       port.UserMaintenanceRepository
	RefreshTokens     port.RefreshTokenStore
	Tickets           port.TicketStore
	Blacklist         port.BlacklistStore
	RateLimits        port.RateLimitStore
	Issuer            *security.TokenIssuer
	PasswordValidator *security.PasswordValidator
	Events            port.EventPublisher
	Metrics           *telemetry.Provider
	Logger            *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthServiceDeps) (*AuthService, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("config is required")
	case deps.Users == nil:
		return nil, errors.New("user repository is required")
	case deps.RefreshTokens == nil:
		return nil, errors.New("refresh token store is required")
	case deps.Tickets == nil:
		return nil, errors.New("ticket store is required")
	case deps.Blacklist == nil:
		return nil, errors.New("blacklist store is required")
	case deps.Issuer == nil:
		return nil, errors.New("token issuer is required")
	case deps.Events == nil:
		return nil, errors.New("event publisher is required")
	}

	validator := deps.PasswordValidator
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &AuthService{
		cfg:               deps.Config,
		users:             deps.Users,
		maintenance:       deps.Maintenance,
		refreshTokens:     deps.RefreshTokens,
		tickets:           deps.Tickets,
		blacklist:         deps.Blacklist,
		rateLimits:        deps.RateLimits,
		issuer:            deps.Issuer,
		passwordValidator: validator,
		events:            deps.Events,
		metrics:           deps.Metrics,
		logger:            log,
		now:               time.Now,
	}, nil
}

// WithClock overrides the service clock, for tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// AccessTokenTTL reports the lifetime of newly issued access tokens.
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.issuer.AccessTokenTTL()
}

// LoginResult carries the credentials and profile returned by Login.
type LoginResult struct {
	Tokens domain.TokenPair
	User   domain.PublicUser
}

// Login verifies credentials and issues a fresh token pair. The user's
// refresh token slot is overwritten, so an earlier session's refresh
// token stops rotating. Failed attempts count toward the lockout
// threshold; attempts against a locked account fail without touching
// the password hash.
func (s *AuthService) Login(ctx context.Context, email, password string, ip *string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if err := s.enforceRateLimit(ctx, loginRateLimitScope, email, s.cfg.RateLimit.LoginMaxAttempts); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.ObserveLogin("failure")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if user.IsLocked(now) {
		s.metrics.ObserveLogin("locked")
		return nil, &AccountLockedError{RetryAfter: user.LockRemaining(now)}
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		if err := s.registerFailedAttempt(ctx, user, now); err != nil {
			s.logger.Warn("record failed login", zap.String("user_id", user.ID), zap.Error(err))
		}
		s.metrics.ObserveLogin("failure")
		return nil, ErrInvalidCredentials
	}

	if s.cfg.Auth.RequireEmailVerification && !user.IsVerified {
		return nil, ErrEmailNotVerified
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("record login", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLogin = &now
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil

	s.metrics.ObserveLogin("success")

	if err := s.events.PublishUserLoggedIn(ctx, domain.UserLoggedInEvent{
		UserID:     user.ID,
		LoggedInAt: now,
		IPAddress:  ip,
	}); err != nil {
		s.logger.Warn("publish user logged in", zap.String("user_id", user.ID), zap.Error(err))
	}

	return &LoginResult{Tokens: *pair, User: user.Public()}, nil
}

// Refresh rotates a refresh token. The presented token must match the
// user's current slot exactly; a mismatch means the token was already
// rotated away (or the slot was overwritten by a newer login) and is
// treated as invalid. On success a new pair is issued and the slot is
// replaced, so each refresh token works at most once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.issuer.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	stored, err := s.refreshTokens.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load refresh slot: %w", err)
	}

	if stored != refreshToken {
		s.logger.Warn("refresh token mismatch, revoking slot",
			zap.String("user_id", claims.UserID),
		)
		if err := s.refreshTokens.Delete(ctx, claims.UserID); err != nil {
			s.logger.Warn("revoke refresh slot", zap.String("user_id", claims.UserID), zap.Error(err))
		}
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	if claims.TokenVersion != user.TokenVersion {
		if err := s.refreshTokens.Delete(ctx, user.ID); err != nil {
			s.logger.Warn("revoke stale refresh slot", zap.String("user_id", user.ID), zap.Error(err))
		}
		return nil, ErrInvalidToken
	}

	return s.issueTokenPair(ctx, user)
}

// Logout blacklists the presented access token for its remaining
// lifetime and deletes the user's refresh token slot. The token is
// decoded without signature verification: even a token the service can
// no longer verify still names the slot to clear, and the blacklist
// entry is harmless for tokens that never validate. Cache delete
// failures propagate so the caller knows the session may survive.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	claims, err := security.DecodeUnverified(accessToken)
	if err != nil {
		return ErrInvalidToken
	}

	now := s.now().UTC()
	if remaining := claims.RemainingLife(now); remaining > 0 {
		if err := s.blacklist.Add(ctx, claims.ID, logoutBlacklistReason, remaining); err != nil {
			return fmt.Errorf("blacklist access token: %w", err)
		}
	}

	if err := s.refreshTokens.Delete(ctx, claims.UserID); err != nil {
		return fmt.Errorf("delete refresh slot: %w", err)
	}

	return nil
}

// ValidateToken checks an access token and reports a structured result.
// It never returns an error: every failure mode, including
// infrastructure trouble, yields Valid=false so callers can treat the
// result as a plain authorization answer.
func (s *AuthService) ValidateToken(ctx context.Context, accessToken string) domain.TokenValidation {
	invalid := domain.TokenValidation{Valid: false}

	claims, err := s.issuer.ParseAccessToken(accessToken)
	if err != nil {
		return invalid
	}

	revoked, err := s.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		s.logger.Warn("blacklist lookup failed", zap.Error(err))
		return invalid
	}
	if revoked {
		return invalid
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("user lookup failed during validation", zap.Error(err))
		}
		return invalid
	}

	if !user.IsActive {
		return invalid
	}
	if claims.TokenVersion != user.TokenVersion {
		return invalid
	}

	publicUser := user.Public()
	return domain.TokenValidation{Valid: true, User: &publicUser}
}

func (s *AuthService) issueTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	access, _, err := s.issuer.IssueAccessToken(user.ID, string(user.Role), user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, _, err := s.issuer.IssueRefreshToken(user.ID, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	if err := s.refreshTokens.Set(ctx, user.ID, refresh, s.issuer.RefreshTokenTTL()); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.metrics.ObserveTokenIssued("access")
	s.metrics.ObserveTokenIssued("refresh")

	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) registerFailedAttempt(ctx context.Context, user *domain.User, now time.Time) error {
	attempts := user.FailedLoginAttempts + 1

	var lockedUntil *time.Time
	if max := s.cfg.Auth.MaxFailedLogins; max > 0 && attempts >= max {
		until := now.Add(s.cfg.Auth.LockDuration)
		lockedUntil = &until
		s.logger.Warn("account locked after repeated failures",
			zap.String("user_id", user.ID),
			zap.String("email", logger.MaskEmail(user.Email)),
			zap.Int("attempts", attempts),
		)
	}

	return s.users.RecordFailedLogin(ctx, user.ID, attempts, lockedUntil)
}

// enforceRateLimit applies the sliding-window limiter for the scope.
// Limiter infrastructure failures never block the caller.
func (s *AuthService) enforceRateLimit(ctx context.Context, scope, identifier string, limit int) error {
	if s.rateLimits == nil || limit <= 0 {
		return nil
	}

	window := s.cfg.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	now := s.now().UTC()
	key := fmt.Sprintf("%s:%s", scope, identifier)

	if err := s.rateLimits.TrimWindow(ctx, key, window, now); err != nil {
		s.logger.Warn("rate limit trim failed", zap.String("scope", scope), zap.Error(err))
		return nil
	}

	count, err := s.rateLimits.CountAttempts(ctx, key, window, now)
	if err != nil {
		s.logger.Warn("rate limit count failed", zap.String("scope", scope), zap.Error(err))
		return nil
	}

	if count >= limit {
		retryAfter := time.Duration(0)
		if oldest, ok, err := s.rateLimits.OldestAttempt(ctx, key, window, now); err == nil && ok {
			if reset := oldest.Add(window); reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if err != nil {
			s.logger.Warn("rate limit oldest lookup failed", zap.String("scope", scope), zap.Error(err))
		}
		return &RateLimitExceededError{Scope: scope, RetryAfter: retryAfter}
	}

	if err := s.rateLimits.RecordAttempt(ctx, key, now); err != nil {
		s.logger.Warn("rate limit record failed", zap.String("scope", scope), zap.Error(err))
	}

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newID() string {
	return uuid.NewString()
}
