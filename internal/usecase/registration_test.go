package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/security"
)

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.svc.Register(context.Background(), RegisterInput{
		Email:     "  Alice@Example.com ",
		Username:  "alice",
		FirstName: "Alice",
		LastName:  "Smith",
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if user.IsVerified {
		t.Fatalf("fresh accounts start unverified")
	}

	tokens := env.tickets.tokensOf(domain.TicketEmailVerification)
	if len(tokens) != 1 {
		t.Fatalf("expected one verification ticket, got %d", len(tokens))
	}

	if len(env.events.registered) != 1 {
		t.Fatalf("expected one registered event, got %d", len(env.events.registered))
	}
	if env.events.registered[0].VerificationToken != tokens[0] {
		t.Fatalf("event should carry the ticket token")
	}

	stored := env.users.get(user.ID)
	if stored.PasswordHash == testPassword || stored.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}
	if ok, _ := security.VerifyPassword(testPassword, stored.PasswordHash); !ok {
		t.Fatalf("stored hash should verify against the password")
	}
}

func TestRegister_DuplicateEmailLeavesCacheUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1", "alice@example.com")

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Email:    "alice@example.com",
		Username: "alice2",
		Password: testPassword,
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	if env.tickets.count() != 0 {
		t.Fatalf("duplicate registration must not write tickets")
	}
	if len(env.events.registered) != 0 {
		t.Fatalf("duplicate registration must not publish events")
	}
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "password",
	})

	var validationErr *security.PasswordValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected PasswordValidationError, got %v", err)
	}
}

func TestVerifyEmail_ConsumesTicket(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	user, err := env.svc.Register(ctx, RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	token := env.tickets.tokensOf(domain.TicketEmailVerification)[0]

	if err := env.svc.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}

	stored := env.users.get(user.ID)
	if !stored.IsVerified {
		t.Fatalf("account should be verified")
	}
	if stored.VerificationToken != nil {
		t.Fatalf("verification token column should be cleared")
	}

	// Single use: replaying the link fails.
	if err := env.svc.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on replay, got %v", err)
	}

	if len(env.events.verified) != 1 {
		t.Fatalf("expected one verified event, got %d", len(env.events.verified))
	}
}

func TestVerifyEmail_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	if err := env.svc.VerifyEmail(context.Background(), "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
