package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/precisesoft/ConnectKit-sub002/internal/repository"
)

const refreshTokenPrefix = "refresh_token"

// RefreshTokenRepository keeps the single active refresh token per user in
// Redis. Writing the slot replaces whatever token was there before, so a
// login on a second device invalidates the first device's refresh token.
type RefreshTokenRepository struct {
	client *red.Client
}

// NewRefreshTokenRepository wires a Redis client into a refresh token store.
func NewRefreshTokenRepository(client *red.Client) *RefreshTokenRepository {
	return &RefreshTokenRepository{client: client}
}

// Set overwrites the user's refresh token slot with the supplied TTL.
func (r *RefreshTokenRepository) Set(ctx context.Context, userID string, token string, ttl time.Duration) error {
	if userID == "" {
		return errors.New("user id must not be empty")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	if err := r.client.Set(ctx, r.key(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set refresh token: %w", err)
	}

	return nil
}

// Get returns the user's stored refresh token, or repository.ErrNotFound
// when the slot is empty or expired.
func (r *RefreshTokenRepository) Get(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id must not be empty")
	}

	token, err := r.client.Get(ctx, r.key(userID)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis get refresh token: %w", err)
	}

	return token, nil
}

// Delete clears the user's refresh token slot. Deleting an empty slot is
// not an error.
func (r *RefreshTokenRepository) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id must not be empty")
	}

	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete refresh token: %w", err)
	}

	return nil
}

func (r *RefreshTokenRepository) key(userID string) string {
	return fmt.Sprintf("%s:%s", refreshTokenPrefix, userID)
}
