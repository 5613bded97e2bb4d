package routes

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/config"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/security"
	"github.com/precisesoft/ConnectKit-sub002/internal/repository"
	redisrepo "github.com/precisesoft/ConnectKit-sub002/internal/repository/redis"
	"github.com/precisesoft/ConnectKit-sub002/internal/usecase"
)

const (
	testPassword = "Str0ng!Passphrase#42"
	newPassword  = "An0ther!Secret#77"
)

type stubUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[string]domain.User)}
}

func (r *stubUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	user.CreatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return nil
}

func (r *stubUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *stubUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			snapshot := user
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubUserRepo) GetByResetToken(_ context.Context, token string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, user := range r.users {
		if user.ResetToken != nil && *user.ResetToken == token &&
			user.ResetTokenExpiresAt != nil && user.ResetTokenExpiresAt.After(now) {
			snapshot := user
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubUserRepo) MarkVerified(_ context.Context, id string) error {
	return r.update(id, func(user *domain.User) {
		user.IsVerified = true
		user.VerificationToken = nil
	})
}

func (r *stubUserRepo) SetResetToken(_ context.Context, id string, token string, expiresAt time.Time) error {
	return r.update(id, func(user *domain.User) {
		user.ResetToken = &token
		user.ResetTokenExpiresAt = &expiresAt
	})
}

func (r *stubUserRepo) UpdatePassword(_ context.Context, id string, passwordHash string, changedAt time.Time) error {
	return r.update(id, func(user *domain.User) {
		user.PasswordHash = passwordHash
		user.ResetToken = nil
		user.ResetTokenExpiresAt = nil
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
		user.UpdatedAt = changedAt
	})
}

func (r *stubUserRepo) RecordFailedLogin(_ context.Context, id string, attempts int, lockedUntil *time.Time) error {
	return r.update(id, func(user *domain.User) {
		user.FailedLoginAttempts = attempts
		user.LockedUntil = lockedUntil
	})
}

func (r *stubUserRepo) RecordLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(user *domain.User) {
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
		user.LastLogin = &at
	})
}

func (r *stubUserRepo) BumpTokenVersion(_ context.Context, id string) (int64, error) {
	var version int64
	err := r.update(id, func(user *domain.User) {
		user.TokenVersion++
		version = user.TokenVersion
	})
	return version, err
}

func (r *stubUserRepo) update(id string, mutate func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	mutate(&user)
	r.users[id] = user
	return nil
}

type capturePublisher struct {
	mu         sync.Mutex
	registered []domain.UserRegisteredEvent
	resets     []domain.PasswordResetRequestedEvent
}

func (p *capturePublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, event)
	return nil
}

func (p *capturePublisher) PublishUserLoggedIn(_ context.Context, _ domain.UserLoggedInEvent) error {
	return nil
}

func (p *capturePublisher) PublishEmailVerified(_ context.Context, _ domain.EmailVerifiedEvent) error {
	return nil
}

func (p *capturePublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, event)
	return nil
}

func (p *capturePublisher) PublishPasswordChanged(_ context.Context, _ domain.PasswordChangedEvent) error {
	return nil
}

func (p *capturePublisher) lastVerificationToken(t *testing.T) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.registered) == 0 {
		t.Fatal("no registration events captured")
	}
	return p.registered[len(p.registered)-1].VerificationToken
}

func (p *capturePublisher) lastResetToken(t *testing.T) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.resets) == 0 {
		t.Fatal("no password reset events captured")
	}
	return p.resets[len(p.resets)-1].ResetToken
}

func writeSigningKey(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	dir := t.TempDir()
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	if err := os.WriteFile(filepath.Join(dir, "signing.pem"), pemBytes, 0o600); err != nil {
		t.Fatalf("write signing key: %v", err)
	}

	return dir
}

type testServer struct {
	router *gin.Engine
	users  *stubUserRepo
	events *capturePublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider, err := security.NewFileKeyProvider(writeSigningKey(t))
	if err != nil {
		t.Fatalf("load key provider: %v", err)
	}

	issuer := security.NewTokenIssuer(provider, provider.SigningKID(), "connectkit-auth", 15*time.Minute, domain.RefreshTokenTTL)

	cfg := &config.AppConfig{}
	cfg.App.Env = "test"
	cfg.Auth.RequireEmailVerification = true
	cfg.Auth.MaxFailedLogins = 5
	cfg.Auth.LockDuration = 30 * time.Minute
	cfg.RateLimit.WindowDuration = time.Minute

	users := newStubUserRepo()
	events := &capturePublisher{}

	svc, err := usecase.NewAuthService(usecase.AuthServiceDeps{
		Config:        cfg,
		Users:         users,
		RefreshTokens: redisrepo.NewRefreshTokenRepository(client),
		Tickets:       redisrepo.NewTicketRepository(client),
		Blacklist:     redisrepo.NewBlacklistRepository(client),
		Issuer:        issuer,
		Events:        events,
		Logger:        zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("build auth service: %v", err)
	}

	router := Register(Dependencies{
		Config:      cfg,
		Logger:      zaptest.NewLogger(t),
		Auth:        svc,
		KeyProvider: provider,
	})

	return &testServer{router: router, users: users, events: events}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type tokenPairBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type validationBody struct {
	Valid bool `json:"valid"`
	User  *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAuthLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":    "Lifecycle@Example.com",
		"username": "lifecycle",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	login := func() *httptest.ResponseRecorder {
		return ts.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
			"email":    "lifecycle@example.com",
			"password": testPassword,
		}, nil)
	}

	if rr := login(); rr.Code != http.StatusForbidden {
		t.Fatalf("login before verification: expected 403, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/verify-email", gin.H{
		"token": ts.events.lastVerificationToken(t),
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify email: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = login()
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	pair := decodeJSON[tokenPairBody](t, rr)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login response missing tokens")
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token type %q", pair.TokenType)
	}
	if pair.ExpiresIn <= 0 || pair.ExpiresIn > 15*60 {
		t.Fatalf("unexpected expires_in %d", pair.ExpiresIn)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/validate", gin.H{"token": pair.AccessToken}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", rr.Code)
	}
	validation := decodeJSON[validationBody](t, rr)
	if !validation.Valid || validation.User == nil || validation.User.Email != "lifecycle@example.com" {
		t.Fatalf("unexpected validation result: %s", rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refresh_token": pair.RefreshToken}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rotated := decodeJSON[tokenPairBody](t, rr)
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh did not rotate the refresh token")
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refresh_token": pair.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh token: expected 401, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(rotated.AccessToken))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/validate", gin.H{"token": rotated.AccessToken}, nil)
	validation = decodeJSON[validationBody](t, rr)
	if validation.Valid {
		t.Fatal("access token still valid after logout")
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refresh_token": rotated.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rr.Code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ts := newTestServer(t)

	payload := gin.H{
		"email":    "dup@example.com",
		"username": "first",
		"password": testPassword,
	}

	if rr := ts.do(t, http.MethodPost, "/api/v1/auth/register", payload, nil); rr.Code != http.StatusCreated {
		t.Fatalf("first register: expected 201, got %d", rr.Code)
	}

	payload["username"] = "second"
	rr := ts.do(t, http.MethodPost, "/api/v1/auth/register", payload, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "nobody@example.com",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user login: expected 401, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "not-an-email"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed login payload: expected 400, got %d", rr.Code)
	}
}

func TestPasswordResetFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":    "reset@example.com",
		"username": "resetter",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/verify-email", gin.H{
		"token": ts.events.lastVerificationToken(t),
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify email: expected 200, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/password/forgot", gin.H{"email": "reset@example.com"}, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("forgot password: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	// Unknown emails get the same response so accounts cannot be enumerated.
	rr = ts.do(t, http.MethodPost, "/api/v1/password/forgot", gin.H{"email": "ghost@example.com"}, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("forgot password for unknown email: expected 202, got %d", rr.Code)
	}

	resetToken := ts.events.lastResetToken(t)

	rr = ts.do(t, http.MethodPost, "/api/v1/password/reset", gin.H{
		"token":            resetToken,
		"new_password":     newPassword,
		"confirm_password": "mismatch" + newPassword,
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("mismatched confirmation: expected 400, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/password/reset", gin.H{
		"token":            resetToken,
		"new_password":     newPassword,
		"confirm_password": newPassword,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset password: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/password/reset", gin.H{
		"token":            resetToken,
		"new_password":     newPassword,
		"confirm_password": newPassword,
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("replayed reset token: expected 400, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "reset@example.com",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("login with old password: expected 401, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "reset@example.com",
		"password": newPassword,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestChangePasswordRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/password/change", gin.H{
		"current_password": testPassword,
		"new_password":     newPassword,
		"confirm_password": newPassword,
	}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated change: expected 401, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":    "changer@example.com",
		"username": "changer",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/verify-email", gin.H{
		"token": ts.events.lastVerificationToken(t),
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify email: expected 200, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "changer@example.com",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rr.Code)
	}
	pair := decodeJSON[tokenPairBody](t, rr)

	rr = ts.do(t, http.MethodPost, "/api/v1/password/change", gin.H{
		"current_password": "wrong" + testPassword,
		"new_password":     newPassword,
		"confirm_password": newPassword,
	}, bearer(pair.AccessToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current password: expected 401, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/password/change", gin.H{
		"current_password": testPassword,
		"new_password":     newPassword,
		"confirm_password": "DOES-NOT-MATCH-AT-ALL",
	}, bearer(pair.AccessToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("mismatched confirmation: expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	// The mismatch left the password alone.
	rr = ts.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "changer@example.com",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("current password should survive a mismatch: expected 200, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/password/change", gin.H{
		"current_password": testPassword,
		"new_password":     newPassword,
		"confirm_password": newPassword,
	}, bearer(pair.AccessToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Bumping the token version invalidates the session that made the change.
	rr = ts.do(t, http.MethodPost, "/api/v1/auth/validate", gin.H{"token": pair.AccessToken}, nil)
	validation := decodeJSON[validationBody](t, rr)
	if validation.Valid {
		t.Fatal("access token still valid after password change")
	}
}

func TestHealthAndJWKSEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("jwks: expected 200, got %d", rr.Code)
	}

	var jwks struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &jwks); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(jwks.Keys) == 0 || jwks.Keys[0].Kty != "RSA" {
		t.Fatalf("unexpected jwks payload: %s", rr.Body.String())
	}
}
