package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/repository"
)

// TicketRepository stores single-use verification and reset tickets as
// JSON under <kind>:<token> keys. The TTL bounds the ticket lifetime; the
// consumer deletes the key on use so a ticket never redeems twice.
type TicketRepository struct {
	client *red.Client
}

// NewTicketRepository wires a Redis client into a ticket store.
func NewTicketRepository(client *red.Client) *TicketRepository {
	return &TicketRepository{client: client}
}

// Store persists the ticket payload with the supplied TTL.
func (r *TicketRepository) Store(ctx context.Context, kind domain.TicketKind, token string, ticket domain.Ticket, ttl time.Duration) error {
	if token == "" {
		return errors.New("token must not be empty")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	payload, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}

	if err := r.client.Set(ctx, r.key(kind, token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set ticket: %w", err)
	}

	return nil
}

// Get returns the ticket stored under the token, or repository.ErrNotFound
// when the token is unknown or expired.
func (r *TicketRepository) Get(ctx context.Context, kind domain.TicketKind, token string) (*domain.Ticket, error) {
	if token == "" {
		return nil, errors.New("token must not be empty")
	}

	payload, err := r.client.Get(ctx, r.key(kind, token)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get ticket: %w", err)
	}

	var ticket domain.Ticket
	if err := json.Unmarshal(payload, &ticket); err != nil {
		return nil, fmt.Errorf("unmarshal ticket: %w", err)
	}

	return &ticket, nil
}

// Delete removes the ticket, consuming it. Unknown tokens are ignored.
func (r *TicketRepository) Delete(ctx context.Context, kind domain.TicketKind, token string) error {
	if token == "" {
		return errors.New("token must not be empty")
	}

	if err := r.client.Del(ctx, r.key(kind, token)).Err(); err != nil {
		return fmt.Errorf("redis delete ticket: %w", err)
	}

	return nil
}

func (r *TicketRepository) key(kind domain.TicketKind, token string) string {
	return fmt.Sprintf("%s:%s", kind, token)
}
