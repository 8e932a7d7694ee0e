package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sellerdesk/internal/account"
	"sellerdesk/internal/auth"
	"sellerdesk/internal/auth/lockout"
	"sellerdesk/internal/auth/password"
	"sellerdesk/internal/auth/ratelimit"
	"sellerdesk/internal/auth/refresh"
	"sellerdesk/internal/auth/revocation"
	"sellerdesk/internal/auth/token"
	"sellerdesk/internal/config"
	"sellerdesk/internal/db"
	"sellerdesk/internal/httpapi"
	"sellerdesk/internal/observability"
	"sellerdesk/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Environment)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Error("sentry init failed", "error", err)
	}
	defer observability.FlushSentry()

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	clock := clockwork.NewRealClock()

	hasher, err := password.NewHasher(password.DefaultParams)
	if err != nil {
		return err
	}

	tokenCfg := token.Config{
		AccessTTL:     cfg.AccessTokenTTL,
		SigningMethod: token.SigningMethod(cfg.TokenSigningMethod),
		SecretKey:     []byte(cfg.TokenSecret),
		PrivateKey:    []byte(cfg.TokenPrivateKey),
		PublicKey:     []byte(cfg.TokenPublicKey),
		Issuer:        cfg.TokenIssuer,
		Leeway:        30 * time.Second,
	}
	issuer, err := token.NewIssuer(tokenCfg, clock)
	if err != nil {
		return err
	}
	registry := revocation.NewRegistry(redisClient, cfg.KeyPrefix)
	validator, err := token.NewValidator(tokenCfg, clock, registry)
	if err != nil {
		return err
	}

	recorder := telemetry.NewRecorder(telemetry.NewJSONWriterSink(os.Stdout), 256)
	defer recorder.Close()

	service, err := auth.NewService(auth.Config{
		AccessTTL:         cfg.AccessTokenTTL,
		RefreshTTL:        cfg.RefreshTokenTTL,
		MinPasswordLength: cfg.MinPasswordLength,
	}, auth.Deps{
		Accounts:  account.NewRepository(database),
		Hasher:    hasher,
		Issuer:    issuer,
		Validator: validator,
		Refresh:   refresh.NewStore(redisClient, cfg.KeyPrefix, cfg.RefreshTokenTTL, clock),
		Registry:  registry,
		Limiter:   ratelimit.NewLimiter(redisClient, cfg.KeyPrefix, clock),
		Lockout: lockout.NewGuard(redisClient, cfg.KeyPrefix, lockout.Config{
			Threshold: cfg.LockoutThreshold,
			Window:    cfg.LockoutWindow,
		}),
		Telemetry: recorder,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler := httpapi.NewHandler(service, httpapi.Config{
		SecureCookies: cfg.SecureCookies,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpapi.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
