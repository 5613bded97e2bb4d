package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/repository"
)

const uniqueViolationCode = "23505"

var userColumns = []string{
	"id",
	"email",
	"username",
	"first_name",
	"last_name",
	"password_hash",
	"role",
	"is_verified",
	"verification_token",
	"reset_token",
	"reset_token_expires_at",
	"failed_login_attempts",
	"locked_until",
	"token_version",
	"is_active",
	"created_at",
	"updated_at",
	"last_login",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a repository backed by any executor that
// satisfies pgExecutor (a pool, a connection, or a transaction).
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new user row. A unique-constraint violation on the
// email column is reported as repository.ErrDuplicateEmail.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	query := r.builder.Insert("users").
		Columns(userColumns...).
		Values(
			user.ID,
			user.Email,
			user.Username,
			user.FirstName,
			user.LastName,
			user.PasswordHash,
			user.Role,
			user.IsVerified,
			user.VerificationToken,
			user.ResetToken,
			user.ResetTokenExpiresAt,
			user.FailedLoginAttempts,
			user.LockedUntil,
			user.TokenVersion,
			user.IsActive,
			user.CreatedAt,
			user.UpdatedAt,
			user.LastLogin,
		)

	stmt, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByEmail retrieves a user by email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("users").
		Where(squirrel.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user by email sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByResetToken retrieves a user holding the given reset token, provided
// the token has not expired yet.
func (r *UserRepository) GetByResetToken(ctx context.Context, token string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("users").
		Where(squirrel.Eq{"reset_token": token}).
		Where(squirrel.Expr("reset_token_expires_at > now()")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user by reset token sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, stmt, args...))
}

// MarkVerified flips the verification flag and clears the pending token.
func (r *UserRepository) MarkVerified(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("users").
		Set("is_verified", true).
		Set("verification_token", nil).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark verified sql: %w", err)
	}

	return r.execExpectingRow(ctx, stmt, args, "mark verified")
}

// SetResetToken stores a password reset token with its expiry.
func (r *UserRepository) SetResetToken(ctx context.Context, id string, token string, expiresAt time.Time) error {
	stmt, args, err := r.builder.Update("users").
		Set("reset_token", token).
		Set("reset_token_expires_at", expiresAt).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set reset token sql: %w", err)
	}

	return r.execExpectingRow(ctx, stmt, args, "set reset token")
}

// UpdatePassword replaces the password hash, clears any pending reset
// token, and resets the lockout counters.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	stmt, args, err := r.builder.Update("users").
		Set("password_hash", passwordHash).
		Set("reset_token", nil).
		Set("reset_token_expires_at", nil).
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Set("updated_at", changedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	return r.execExpectingRow(ctx, stmt, args, "update password")
}

// RecordFailedLogin persists the failed attempt counter and, once the
// threshold is crossed, the lockout deadline.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error {
	stmt, args, err := r.builder.Update("users").
		Set("failed_login_attempts", attempts).
		Set("locked_until", lockedUntil).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record failed login sql: %w", err)
	}

	return r.execExpectingRow(ctx, stmt, args, "record failed login")
}

// RecordLogin clears the lockout counters and stamps last_login.
func (r *UserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("users").
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Set("last_login", at).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record login sql: %w", err)
	}

	return r.execExpectingRow(ctx, stmt, args, "record login")
}

// BumpTokenVersion increments the user's token version and returns the
// new value. Tokens minted against older versions stop validating.
func (r *UserRepository) BumpTokenVersion(ctx context.Context, id string) (int64, error) {
	stmt, args, err := r.builder.Update("users").
		Set("token_version", squirrel.Expr("token_version + 1")).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING token_version").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build bump token version sql: %w", err)
	}

	var version int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("bump token version: %w", err)
	}

	return version, nil
}

// PurgeExpiredResetTokens clears reset tokens whose expiry has passed.
func (r *UserRepository) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	stmt, args, err := r.builder.Update("users").
		Set("reset_token", nil).
		Set("reset_token_expires_at", nil).
		Where(squirrel.NotEq{"reset_token": nil}).
		Where(squirrel.LtOrEq{"reset_token_expires_at": now}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge reset tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}

	return tag.RowsAffected(), nil
}

// PurgeStaleVerificationTokens clears verification tokens for accounts
// that were created before the cutoff and never verified.
func (r *UserRepository) PurgeStaleVerificationTokens(ctx context.Context, issuedBefore time.Time) (int64, error) {
	stmt, args, err := r.builder.Update("users").
		Set("verification_token", nil).
		Where(squirrel.NotEq{"verification_token": nil}).
		Where(squirrel.Eq{"is_verified": false}).
		Where(squirrel.LtOrEq{"created_at": issuedBefore}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge verification tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge verification tokens: %w", err)
	}

	return tag.RowsAffected(), nil
}

// UnlockExpiredAccounts resets the lockout state for accounts whose lock
// window has elapsed.
func (r *UserRepository) UnlockExpiredAccounts(ctx context.Context, now time.Time) (int64, error) {
	stmt, args, err := r.builder.Update("users").
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Where(squirrel.NotEq{"locked_until": nil}).
		Where(squirrel.LtOrEq{"locked_until": now}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build unlock accounts sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("unlock accounts: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *UserRepository) scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.Role,
		&user.IsVerified,
		&user.VerificationToken,
		&user.ResetToken,
		&user.ResetTokenExpiresAt,
		&user.FailedLoginAttempts,
		&user.LockedUntil,
		&user.TokenVersion,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLogin,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &user, nil
}

func (r *UserRepository) execExpectingRow(ctx context.Context, stmt string, args []any, op string) error {
	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
