package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	red "github.com/redis/go-redis/v9"
)

const blacklistPrefix = "blacklist"

// BlacklistRepository records revoked access-token ids in Redis. Entries
// carry a TTL equal to the token's remaining lifetime, so the blacklist
// trims itself as tokens expire naturally.
type BlacklistRepository struct {
	client *red.Client
}

// NewBlacklistRepository wires a Redis client into a blacklist store.
func NewBlacklistRepository(client *red.Client) *BlacklistRepository {
	return &BlacklistRepository{client: client}
}

// Add marks the JTI revoked for the given TTL with an audit reason.
func (r *BlacklistRepository) Add(ctx context.Context, jti string, reason string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("jti must not be empty")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	if err := r.client.Set(ctx, r.key(jti), reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis set blacklist entry: %w", err)
	}

	return nil
}

// Contains reports whether the JTI is currently blacklisted.
func (r *BlacklistRepository) Contains(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, errors.New("jti must not be empty")
	}

	exists, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check blacklist entry: %w", err)
	}

	return exists > 0, nil
}

func (r *BlacklistRepository) key(jti string) string {
	return fmt.Sprintf("%s:%s", blacklistPrefix, jti)
}
