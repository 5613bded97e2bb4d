package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/domain"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/config"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/security"
	"github.com/precisesoft/ConnectKit-sub002/internal/repository"
)

// createTestKeyProvider writes a temporary RSA key pair and loads it
// into a FileKeyProvider.
func createTestKeyProvider(t *testing.T) *security.FileKeyProvider {
	t.Helper()

	tmpDir := t.TempDir()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(filepath.Join(tmpDir, "signing.pem"), privatePEM, 0o600); err != nil {
		t.Fatalf("failed to write private key: %v", err)
	}

	provider, err := security.NewFileKeyProvider(tmpDir)
	if err != nil {
		t.Fatalf("failed to create key provider: %v", err)
	}

	return provider
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User

	failRecordFailedLogin error
	maintenanceErr        error
	resetPurged           int64
	verificationPurged    int64
	unlocked              int64
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (r *memUserRepo) add(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := user
	r.users[user.ID] = &copy
}

func (r *memUserRepo) get(id string) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

func (r *memUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	copy := user
	r.users[user.ID] = &copy
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			copy := *user
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) GetByResetToken(_ context.Context, token string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.ResetToken != nil && *user.ResetToken == token {
			copy := *user
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) MarkVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.IsVerified = true
	user.VerificationToken = nil
	return nil
}

func (r *memUserRepo) SetResetToken(_ context.Context, id string, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.ResetToken = &token
	user.ResetTokenExpiresAt = &expiresAt
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id string, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.ResetToken = nil
	user.ResetTokenExpiresAt = nil
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.UpdatedAt = changedAt
	return nil
}

func (r *memUserRepo) RecordFailedLogin(_ context.Context, id string, attempts int, lockedUntil *time.Time) error {
	if r.failRecordFailedLogin != nil {
		return r.failRecordFailedLogin
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedLoginAttempts = attempts
	user.LockedUntil = lockedUntil
	return nil
}

func (r *memUserRepo) RecordLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &at
	return nil
}

func (r *memUserRepo) BumpTokenVersion(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	user.TokenVersion++
	return user.TokenVersion, nil
}

func (r *memUserRepo) PurgeExpiredResetTokens(context.Context, time.Time) (int64, error) {
	if r.maintenanceErr != nil {
		return 0, r.maintenanceErr
	}
	return r.resetPurged, nil
}

func (r *memUserRepo) PurgeStaleVerificationTokens(context.Context, time.Time) (int64, error) {
	return r.verificationPurged, nil
}

func (r *memUserRepo) UnlockExpiredAccounts(context.Context, time.Time) (int64, error) {
	return r.unlocked, nil
}

type memRefreshStore struct {
	mu         sync.Mutex
	slots      map[string]string
	ttls       map[string]time.Duration
	failDelete error
	failSet    error
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{slots: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (s *memRefreshStore) Set(_ context.Context, userID string, token string, ttl time.Duration) error {
	if s.failSet != nil {
		return s.failSet
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[userID] = token
	s.ttls[userID] = ttl
	return nil
}

func (s *memRefreshStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.slots[userID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return token, nil
}

func (s *memRefreshStore) Delete(_ context.Context, userID string) error {
	if s.failDelete != nil {
		return s.failDelete
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, userID)
	delete(s.ttls, userID)
	return nil
}

func (s *memRefreshStore) slot(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.slots[userID]
	return token, ok
}

type memTicketStore struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket
}

func newMemTicketStore() *memTicketStore {
	return &memTicketStore{tickets: make(map[string]domain.Ticket)}
}

func ticketKey(kind domain.TicketKind, token string) string {
	return fmt.Sprintf("%s:%s", kind, token)
}

func (s *memTicketStore) Store(_ context.Context, kind domain.TicketKind, token string, ticket domain.Ticket, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticketKey(kind, token)] = ticket
	return nil
}

func (s *memTicketStore) Get(_ context.Context, kind domain.TicketKind, token string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketKey(kind, token)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := ticket
	return &copy, nil
}

func (s *memTicketStore) Delete(_ context.Context, kind domain.TicketKind, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, ticketKey(kind, token))
	return nil
}

func (s *memTicketStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

func (s *memTicketStore) tokensOf(kind domain.TicketKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := string(kind) + ":"
	var tokens []string
	for key := range s.tickets {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			tokens = append(tokens, key[len(prefix):])
		}
	}
	sort.Strings(tokens)
	return tokens
}

type memBlacklist struct {
	mu      sync.Mutex
	entries map[string]string
	failAdd error
}

func newMemBlacklist() *memBlacklist {
	return &memBlacklist{entries: make(map[string]string)}
}

func (b *memBlacklist) Add(_ context.Context, jti string, reason string, _ time.Duration) error {
	if b.failAdd != nil {
		return b.failAdd
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[jti] = reason
	return nil
}

func (b *memBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[jti]
	return ok, nil
}

type recordingPublisher struct {
	mu              sync.Mutex
	registered      []domain.UserRegisteredEvent
	loggedIn        []domain.UserLoggedInEvent
	verified        []domain.EmailVerifiedEvent
	resetRequested  []domain.PasswordResetRequestedEvent
	passwordChanged []domain.PasswordChangedEvent
}

func (p *recordingPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, event)
	return nil
}

func (p *recordingPublisher) PublishUserLoggedIn(_ context.Context, event domain.UserLoggedInEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = append(p.loggedIn, event)
	return nil
}

func (p *recordingPublisher) PublishEmailVerified(_ context.Context, event domain.EmailVerifiedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verified = append(p.verified, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetRequested = append(p.resetRequested, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwordChanged = append(p.passwordChanged, event)
	return nil
}

type testEnv struct {
	svc       *AuthService
	cfg       *config.AppConfig
	users     *memUserRepo
	refresh   *memRefreshStore
	tickets   *memTicketStore
	blacklist *memBlacklist
	events    *recordingPublisher
	issuer    *security.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.AppConfig{
		App: config.AppSettings{Name: "connectkit-auth", Env: "test"},
		Auth: config.AuthSettings{
			MaxFailedLogins: 5,
			LockDuration:    30 * time.Minute,
		},
		RateLimit: config.RateLimitSettings{WindowDuration: time.Minute},
	}

	provider := createTestKeyProvider(t)
	issuer := security.NewTokenIssuer(provider, provider.SigningKID(), "connectkit-auth", 15*time.Minute, domain.RefreshTokenTTL)

	env := &testEnv{
		cfg:       cfg,
		users:     newMemUserRepo(),
		refresh:   newMemRefreshStore(),
		tickets:   newMemTicketStore(),
		blacklist: newMemBlacklist(),
		events:    &recordingPublisher{},
		issuer:    issuer,
	}

	svc, err := NewAuthService(AuthServiceDeps{
		Config:        cfg,
		Users:         env.users,
		Maintenance:   env.users,
		RefreshTokens: env.refresh,
		Tickets:       env.tickets,
		Blacklist:     env.blacklist,
		Issuer:        issuer,
		Events:        env.events,
		Logger:        zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	env.svc = svc

	return env
}

const testPassword = "Str0ng!Passphrase#42"

// seedUser registers a verified, active account directly in the repo.
func (e *testEnv) seedUser(t *testing.T, id, email string) domain.User {
	t.Helper()

	hash, err := security.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           id,
		Email:        email,
		Username:     "user-" + id,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsVerified:   true,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.users.add(user)
	return user
}

var errStoreDown = errors.New("store unavailable")
