package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/precisesoft/ConnectKit-sub002/internal/core/port"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/config"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/database"
	kafkainfra "github.com/precisesoft/ConnectKit-sub002/internal/infra/kafka"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/logger"
	redisinfra "github.com/precisesoft/ConnectKit-sub002/internal/infra/redis"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/security"
	"github.com/precisesoft/ConnectKit-sub002/internal/infra/telemetry"
	postgresrepo "github.com/precisesoft/ConnectKit-sub002/internal/repository/postgres"
	redisrepo "github.com/precisesoft/ConnectKit-sub002/internal/repository/redis"
	"github.com/precisesoft/ConnectKit-sub002/internal/transport/http/middleware"
	"github.com/precisesoft/ConnectKit-sub002/internal/transport/http/routes"
	"github.com/precisesoft/ConnectKit-sub002/internal/usecase"
)

// Application bundles the wired service with the resources it owns.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	auth     *usecase.AuthService
}

// New assembles every layer of the service from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log := logger.Init(cfg.App.Env)

	metrics, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}

	signingKID := cfg.JWT.SigningKID
	if signingKID == "" {
		signingKID = keyProvider.SigningKID()
	}
	issuer := security.NewTokenIssuer(keyProvider, signingKID, cfg.App.Name, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if err := security.ConfigureArgon2(argonCfg); err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	users := postgresrepo.NewUserRepository(pool)

	var producer *kafkainfra.Producer
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "connectkit:rate-limit",
		TTL:       rateLimitWindow * 2,
	})

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	authService, err := usecase.NewAuthService(usecase.AuthServiceDeps{
		Config:            cfg,
		Users:             users,
		Maintenance:       users,
		RefreshTokens:     redisrepo.NewRefreshTokenRepository(redisClient.Client()),
		Tickets:           redisrepo.NewTicketRepository(redisClient.Client()),
		Blacklist:         redisrepo.NewBlacklistRepository(redisClient.Client()),
		RateLimits:        rateLimitStore,
		Issuer:            issuer,
		PasswordValidator: security.DefaultPasswordValidator(),
		Events:            eventPublisher,
		Metrics:           metrics,
		Logger:            log,
	})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Auth:        authService,
		KeyProvider: keyProvider,
		Metrics:     httpMetrics,
		Database:    pool,
		Cache:       redisClient,
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
		auth:     authService,
	}, nil
}

// Run serves HTTP traffic until the context is cancelled, then shuts down
// gracefully. The cleanup sweeper runs alongside the server on its own ticker.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.tracer.Shutdown(shutdownCtx)
		}
	}()

	go a.runCleanupLoop(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting ConnectKit auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) runCleanupLoop(ctx context.Context) {
	interval := a.cfg.Auth.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			a.auth.Cleanup(sweepCtx)
			cancel()
		}
	}
}
