package usecase

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1", "alice@example.com")

	result, err := env.svc.Login(context.Background(), "Alice@Example.com", testPassword, nil)
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", result.Tokens)
	}
	if result.User.Email != "alice@example.com" {
		t.Fatalf("unexpected user email: %s", result.User.Email)
	}

	slot, ok := env.refresh.slot("user-1")
	if !ok {
		t.Fatalf("expected refresh slot to be populated")
	}
	if slot != result.Tokens.RefreshToken {
		t.Fatalf("slot does not hold the issued refresh token")
	}

	stored := env.users.get("user-1")
	if stored.LastLogin == nil {
		t.Fatalf("expected last login to be stamped")
	}

	if len(env.events.loggedIn) != 1 {
		t.Fatalf("expected one logged-in event, got %d", len(env.events.loggedIn))
	}
}

func TestLogin_SecondLoginOverwritesSlot(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1", "alice@example.com")

	first, err := env.svc.Login(context.Background(), "alice@example.com", testPassword, nil)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := env.svc.Login(context.Background(), "alice@example.com", testPassword, nil)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	slot, _ := env.refresh.slot("user-1")
	if slot != second.Tokens.RefreshToken {
		t.Fatalf("slot should hold the newest refresh token")
	}

	// The first session's refresh token no longer rotates.
	if _, err := env.svc.Refresh(context.Background(), first.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for displaced refresh token, got %v", err)
	}
}

func TestLogin_WrongPasswordCountsAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1", "alice@example.com")

	_, err := env.svc.Login(context.Background(), "alice@example.com", "wrong-password", nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	stored := env.users.get("user-1")
	if stored.FailedLoginAttempts != 1 {
		t.Fatalf("expected 1 failed attempt, got %d", stored.FailedLoginAttempts)
	}
	if stored.LockedUntil != nil {
		t.Fatalf("account should not be locked yet")
	}
}

func TestLogin_LockoutAfterThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1", "alice@example.com")

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := env.svc.Login(ctx, "alice@example.com", "wrong-password", nil); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	stored := env.users.get("user-1")
	if stored.LockedUntil == nil {
		t.Fatalf("expected lockout after %d failures", 5)
	}

	// The sixth attempt is rejected before the password is even checked.
	_, err := env.svc.Login(ctx, "alice@example.com", testPassword, nil)
	var lockedErr *AccountLockedError
	if !errors.As(err, &lockedErr) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}
	if lockedErr.RetryAfter <= 0 || lockedErr.RetryAfter > 30*time.Minute {
		t.Fatalf("unexpected retry-after: %v", lockedErr.RetryAfter)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Login(context.Background(), "ghost@example.com", testPassword, nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_RequireEmailVerificationGate(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Auth.RequireEmailVerification = true

	user := env.seedUser(t, "user-1", "alice@example.com")
	user.IsVerified = false
	env.users.add(user)

	_, err := env.svc.Login(context.Background(), "alice@example.com", testPassword, nil)
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	if _, ok := env.refresh.slot("user-1"); ok {
		t.Fatalf("no refresh token should be issued for unverified users")
	}
}

func TestLogin_UnverifiedAllowedWhenGateOff(t *testing.T) {
	env := newTestEnv(t)

	user := env.seedUser(t, "user-1", "alice@example.com")
	user.IsVerified = false
	env.users.add(user)

	if _, err := env.svc.Login(context.Background(), "alice@example.com", testPassword, nil); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	env := newTestEnv(t)

	user := env.seedUser(t, "user-1", "alice@example.com")
	user.IsActive = false
	env.users.add(user)

	_, err := env.svc.Login(context.Background(), "alice@example.com", testPassword, nil)
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestLogin_SuccessResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user-1", "alice@example.com")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = env.svc.Login(ctx, "alice@example.com", "wrong-password", nil)
	}

	if _, err := env.svc.Login(ctx, "alice@example.com", testPassword, nil); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	stored := env.users.get("user-1")
	if stored.FailedLoginAttempts != 0 {
		t.Fatalf("expected failure counter reset, got %d", stored.FailedLoginAttempts)
	}
}
