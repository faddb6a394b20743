// Package main is the entrypoint for the CarHelper API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carhelperai/carhelper/internal/ai"
	"github.com/carhelperai/carhelper/internal/api"
	"github.com/carhelperai/carhelper/internal/api/handler"
	mw "github.com/carhelperai/carhelper/internal/api/middleware"
	"github.com/carhelperai/carhelper/internal/auth"
	"github.com/carhelperai/carhelper/internal/cache"
	"github.com/carhelperai/carhelper/internal/config"
	"github.com/carhelperai/carhelper/internal/diagnosis"
	"github.com/carhelperai/carhelper/internal/obd"
	"github.com/carhelperai/carhelper/internal/ratelimit"
	"github.com/carhelperai/carhelper/internal/store"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/getsentry/sentry-go"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	if initSentry(cfg.Sentry) {
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the store (postgres, or memory in development)
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Redis, when configured, backs the rate limiters and the usage cache
	var (
		redisCache *cache.RedisCache
		limitStore ratelimit.Store = ratelimit.NewMemoryStore()
	)
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		limitStore = ratelimit.NewRedisStore(redisCache)
		slog.Info("redis connected")
	} else {
		slog.Warn("REDIS_URL not set, rate limits are per instance")
	}

	// 4. Create AI provider; an empty AI_PROVIDER serves the unavailable placeholder
	provider, err := newProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}

	// 5. Services
	authSvc := auth.NewService(st, cfg.Session.TTL)
	diagLimiter := ratelimit.NewLimiter(limitStore, ratelimit.Policy{
		Name:   "diagnose",
		Points: cfg.RateLimit.DiagnosePoints,
		Window: cfg.RateLimit.DiagnoseWindow,
	})
	authLimiter := ratelimit.NewLimiter(limitStore, ratelimit.Policy{
		Name:   "auth",
		Points: cfg.RateLimit.AuthPoints,
		Window: cfg.RateLimit.AuthWindow,
	})
	// The diagnose budget is enforced by the router ahead of session lookup,
	// so the service gets no limiter of its own.
	diagSvc := diagnosis.NewService(provider, st, nil, diagnosis.Config{
		Timeout:     cfg.AI.InferenceTimeout,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
	})

	catalog, err := obd.Default()
	if err != nil {
		return fmt.Errorf("load obd catalog: %w", err)
	}

	// A nil *RedisCache must not reach the handlers as a non-nil interface.
	var usageCache cache.Cache
	var cachePinger handler.Pinger
	if redisCache != nil {
		usageCache = redisCache
		cachePinger = redisCache
		diagSvc.WithCache(redisCache)
	}

	// 6. Build router with dependencies
	authHandlers := handler.NewAuthHandlers(authSvc, cfg.Session.CookieSecure)
	router := api.NewRouter(api.Dependencies{
		Auth:              mw.NewAuth(authSvc),
		AuthRateLimit:     mw.NewRateLimit(authLimiter),
		DiagnoseRateLimit: mw.NewRateLimit(diagLimiter),

		HealthHandler:   handler.NewHealthHandler(st, cachePinger),
		DiagnoseHandler: handler.NewDiagnoseHandler(diagSvc),

		SignUpHandler:  authHandlers.SignUp,
		SignInHandler:  authHandlers.SignIn,
		SignOutHandler: authHandlers.SignOut,
		SessionHandler: authHandlers.Session,

		GetUserHandler:    handler.NewGetUserHandler(st),
		UpdateUserHandler: handler.NewUpdateUserHandler(st),

		ListVehicles:  handler.NewListVehiclesHandler(st),
		CreateVehicle: handler.NewCreateVehicleHandler(st),
		UpdateVehicle: handler.NewUpdateVehicleHandler(st),
		DeleteVehicle: handler.NewDeleteVehicleHandler(st),

		ListDiagnoses: handler.NewListDiagnosesHandler(st),
		UsageHandler:  handler.NewUsageHandler(st, usageCache),
		OBDHandler:    handler.NewOBDCodeHandler(catalog),
	})

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Must outlast the model call.
		WriteTimeout: cfg.AI.InferenceTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore connects to postgres and applies migrations. Without a
// DATABASE_URL (allowed only in development) it returns a memory store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	st, closeFn, err := store.Open(ctx, cfg.Database, migrationsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected, migrations applied")

	return st, closeFn, nil
}

// newProvider builds the configured completion provider. A nil provider with
// a nil error means diagnostics are switched off.
func newProvider(cfg config.AIConfig) (models.CompletionProvider, error) {
	p, err := ai.NewProvider(cfg)
	if errors.Is(err, ai.ErrProviderNotConfigured) {
		slog.Warn("AI_PROVIDER not set, diagnoses will return the unavailable placeholder")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slog.Info("AI provider initialized", "provider", p.Name())
	return p, nil
}

// initSentry reports whether error reporting was enabled.
func initSentry(cfg config.SentryConfig) bool {
	if cfg.DSN == "" {
		return false
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		TracesSampleRate: 0.1,
		AttachStacktrace: true,
	})
	if err != nil {
		slog.Warn("sentry initialization failed", "error", err)
		return false
	}
	slog.Info("sentry initialized", "environment", cfg.Environment, "release", cfg.Release)
	return true
}
