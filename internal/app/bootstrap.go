package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"authcore/internal/auth"
	"authcore/internal/config"
	"authcore/internal/db"
	"authcore/internal/maintenance"
	"authcore/internal/observability"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
	// TrustedProxyHops is the deployment's default for TRUSTED_PROXY_HOPS.
	TrustedProxyHops int
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
	Port    string
	Logger  *observability.Logger
}

type pinger interface {
	Ping(ctx context.Context) error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{
		LoadDotEnv:              options.LoadDotEnv,
		DefaultTrustedProxyHops: options.TrustedProxyHops,
	})
	if err != nil {
		return nil, err
	}

	logger := observability.New(os.Stdout, cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	closers := []func() error{}
	closeAll := func() error {
		observability.FlushSentry()
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	fail := func(err error) (*Runtime, error) {
		_ = closeAll()
		return nil, err
	}

	var (
		store    auth.CredentialStore
		health   pinger
		denylist auth.Denylist
		cleaner  maintenance.RevocationCleaner
	)

	if cfg.DatabaseURL != "" {
		database, err := openDatabase(cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, database.Close)

		if options.RunMigrations {
			if err := db.RunMigrations(context.Background(), database); err != nil {
				return fail(fmt.Errorf("run migrations: %w", err))
			}
		}

		repo := auth.NewRepository(database)
		store, health, denylist, cleaner = repo, repo, repo, repo
	} else {
		logger.Warn("memory_store_in_use", map[string]any{"reason": "DATABASE_URL is not set"})
		memory := auth.NewMemoryStore()
		store, health, denylist = memory, memory, auth.NewMemoryDenylist()
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("parse REDIS_URL: %w", err))
		}
		rdb := redis.NewClient(opt)
		closers = append(closers, rdb.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		denylist = auth.NewRedisDenylist(rdb)
		cleaner = nil
	}

	authService, err := auth.NewService(store, cfg.AuthConfig(),
		auth.WithDenylist(denylist),
		auth.WithLogger(logger),
	)
	if err != nil {
		return fail(err)
	}

	if err := authService.BootstrapAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash); err != nil {
		return fail(fmt.Errorf("bootstrap admin: %w", err))
	}

	authHandler := auth.NewHandler(authService)
	cleanupHandler := maintenance.NewCleanupHandler(cleaner, logger, cfg.CronSecret, cfg.CleanupBatchSize)
	credentialLimiter := auth.NewLoginRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", credentialLimiter.Middleware(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /auth/login", credentialLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.HandleFunc("POST /auth/authorize", authHandler.Authorize)
	mux.Handle("GET /auth/me", auth.RequireRole(authService, auth.RoleUser, http.HandlerFunc(authHandler.Me)))
	mux.Handle("GET /admin", auth.RequireRole(authService, auth.RoleAdmin, http.HandlerFunc(authHandler.Admin)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(health))
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := observability.ClientIPMiddleware(cfg.TrustedProxyHops,
		observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux)),
	)

	return &Runtime{
		Handler: handler,
		Close:   closeAll,
		Port:    cfg.Port,
		Logger:  logger,
	}, nil
}

func openDatabase(cfg config.Config) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return database, nil
}

func healthHandler(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
