// Package main is the entry point for the storefront API server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/account"
	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/internal/cart"
	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/internal/checkout"
	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/internal/navigation"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/openapi"
	"github.com/pitabwire/storefront/internal/search"
	"github.com/pitabwire/storefront/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

// storeBackend is what the account, cart and checkout services run on.
type storeBackend interface {
	backend.Authenticator
	backend.DocumentStore
	observability.HealthChecker
	Close() error
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "storefront", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load and validate the catalog.
	store := catalog.NewStore(nil)
	suggestionCache := search.NewSuggestionCache(5*time.Minute, 1000)
	watcher := catalog.NewWatcher(cfg.Catalog.Directories, store, logger, func(_ string, err error) {
		if err == nil {
			suggestionCache.Invalidate()
		}
		metrics.RecordCatalogReload(err, len(store.Categories()), len(store.Products()))
	})
	if err := watcher.Reload(); err != nil {
		logger.Error("catalog loading failed", zap.Error(err))
		return 1
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Catalog.HotReload {
		if err := watcher.Start(bgCtx); err != nil {
			logger.Error("catalog watcher failed to start", zap.Error(err))
			return 1
		}
		defer func() { _ = watcher.Close() }()
	}

	// Step 5: Connect shared Redis when any store uses it.
	var rdb *redis.Client
	if usesRedis(cfg) {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			return 1
		}
	}

	// Step 6: Build stores.
	var navStore navigation.SessionStore
	switch cfg.Navigation.Store.Driver {
	case config.DriverRedis:
		navStore = navigation.NewRedisSessionStore(rdb, cfg.Navigation.Store.KeyPrefix)
	default:
		navStore = navigation.NewMemorySessionStore()
	}

	var recent search.RecentStore
	switch cfg.Search.RecentStore.Driver {
	case config.DriverRedis:
		recent = search.NewRedisRecentStore(rdb, cfg.Search.RecentStore.KeyPrefix, cfg.Search.RecentLimit)
	default:
		recent = search.NewMemoryRecentStore(cfg.Search.RecentLimit)
	}

	var idem checkout.IdempotencyStore
	if cfg.Checkout.Idempotency.Enabled {
		switch cfg.Checkout.Idempotency.Driver {
		case config.DriverRedis:
			idem = checkout.NewRedisIdempotencyStore(rdb)
		default:
			idem = checkout.NewMemoryIdempotencyStore()
		}
	}

	// Step 7: Connect the backend.
	be, beCloser, err := buildBackend(bgCtx, cfg, metrics, logger)
	if err != nil {
		logger.Error("backend initialization failed", zap.Error(err))
		return 1
	}
	defer beCloser()

	// Step 8: Build services.
	navSvc := navigation.NewService(store, navStore, cfg.Navigation.SessionTTL, logger)
	searchProvider := search.NewProvider(store, suggestionCache, search.Options{
		MinQueryLength:  cfg.Search.MinQueryLength,
		DefaultPageSize: cfg.Search.DefaultPageSize,
		MaxPageSize:     cfg.Search.MaxPageSize,
		SuggestionLimit: cfg.Search.SuggestionLimit,
		Trending:        cfg.Search.Trending,
	})
	accounts := account.NewService(be, be, logger)
	carts := cart.NewService(be, logger)
	checkoutSvc := checkout.NewService(carts, accounts, be, idem, checkout.Options{
		AdditionalFee:  cfg.Checkout.AdditionalFee,
		IdempotencyTTL: cfg.Checkout.Idempotency.TTL,
	}, logger)

	// Step 9: Build HTTP router.
	var sessions *transport.SessionIssuer
	if cfg.Identity.SigningKey != "" {
		sessions, err = transport.NewSessionIssuer(cfg.Identity)
		if err != nil {
			logger.Error("session issuer initialization failed", zap.Error(err))
			return 1
		}
	}
	var jwks *transport.JWKSClient
	if cfg.Identity.JWKSURL != "" {
		jwks = transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	}

	readiness := observability.ReadinessChecks{
		CatalogLoaded: func() bool { return len(store.Categories()) > 0 },
		Dependencies: map[string]observability.HealthChecker{
			"backend": be,
		},
	}
	if rdb != nil {
		readiness.Dependencies["redis"] = observability.HealthCheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: transport.SessionAuthenticator(cfg.Identity, sessions, jwks),
		Sessions:     sessions,
		Catalog:      store,
		Menu:         catalog.NewMenuProvider(store),
		Navigation:   navSvc,
		Search:       searchProvider,
		Recent:       recent,
		Accounts:     accounts,
		Cart:         carts,
		Checkout:     checkoutSvc,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", cfg.Backend.Driver),
		zap.Int("categories", len(store.Categories())),
		zap.Int("products", len(store.Products())),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

func usesRedis(cfg *config.Config) bool {
	return cfg.Navigation.Store.Driver == config.DriverRedis ||
		cfg.Search.RecentStore.Driver == config.DriverRedis ||
		(cfg.Checkout.Idempotency.Enabled && cfg.Checkout.Idempotency.Driver == config.DriverRedis)
}

// pgBackend keeps documents in Postgres. Accounts stay in process.
type pgBackend struct {
	*backend.PgDocumentStore
	*backend.MemoryBackend
}

func (b pgBackend) Get(ctx context.Context, p string) (backend.Document, error) {
	return b.PgDocumentStore.Get(ctx, p)
}

func (b pgBackend) Set(ctx context.Context, p string, data any) error {
	return b.PgDocumentStore.Set(ctx, p, data)
}

func (b pgBackend) Merge(ctx context.Context, p string, fields map[string]any) error {
	return b.PgDocumentStore.Merge(ctx, p, fields)
}

func (b pgBackend) Delete(ctx context.Context, p string) error {
	return b.PgDocumentStore.Delete(ctx, p)
}

func (b pgBackend) List(ctx context.Context, collection string) ([]backend.Document, error) {
	return b.PgDocumentStore.List(ctx, collection)
}

func (b pgBackend) Subscribe(ctx context.Context, collection string, fn backend.SnapshotFunc) (func(), error) {
	return b.PgDocumentStore.Subscribe(ctx, collection, fn)
}

func (b pgBackend) HealthCheck(ctx context.Context) error {
	return b.PgDocumentStore.HealthCheck(ctx)
}

func (b pgBackend) Close() error {
	return errors.Join(b.PgDocumentStore.Close(), b.MemoryBackend.Close())
}

// buildBackend creates the backend selected by config. The returned closer
// releases it.
func buildBackend(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (storeBackend, func(), error) {
	switch cfg.Backend.Driver {
	case config.DriverHTTP:
		idx, err := openapi.LoadFile(cfg.Backend.SpecFile)
		if err != nil {
			return nil, nil, fmt.Errorf("backend description: %w", err)
		}
		cb := cfg.Backend.CircuitBreaker
		breaker := backend.NewBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout,
			func(from, to backend.BreakerState) {
				logger.Warn("backend circuit breaker changed",
					zap.Stringer("from", from), zap.Stringer("to", to))
				metrics.SetBackendCircuitBreakerState(breakerGauge(to))
			})
		b, err := backend.NewHTTPBackend(idx, backend.HTTPOptions{
			BaseURL:           cfg.Backend.BaseURL,
			APIKey:            cfg.Backend.APIKey,
			Timeout:           cfg.Backend.Timeout,
			PollInterval:      cfg.Backend.WatchInterval,
			RequestsPerSecond: cfg.Backend.MaxRequestsPerSecond,
			Breaker:           breaker,
			Logger:            logger,
			OnCall:            metrics.RecordBackendRequest,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using HTTP backend", zap.Strings("operations", idx.OperationIDs()))
		return b, func() { _ = b.Close() }, nil

	case config.DriverPostgres:
		dsn := cfg.PostgresDSN()
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres backend: %s environment variable not set", cfg.Postgres.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres backend: parse DSN: %w", err)
		}
		if cfg.Postgres.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.Postgres.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres backend: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres backend: ping: %w", err)
		}

		docs := backend.NewPgDocumentStore(pool, logger)
		if err := docs.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres backend: %w", err)
		}
		go func() {
			if err := docs.Listen(ctx); err != nil {
				logger.Error("postgres change listener stopped", zap.Error(err))
			}
		}()

		logger.Warn("postgres backend keeps accounts in memory; they do not survive restarts")
		b := pgBackend{PgDocumentStore: docs, MemoryBackend: backend.NewMemoryBackend(cfg.Backend.PasswordCost)}
		return b, func() {
			_ = b.Close()
			pool.Close()
		}, nil

	default:
		logger.Info("using in-memory backend")
		b := backend.NewMemoryBackend(cfg.Backend.PasswordCost)
		return b, func() { _ = b.Close() }, nil
	}
}

func breakerGauge(s backend.BreakerState) float64 {
	switch s {
	case backend.BreakerHalfOpen:
		return 1
	case backend.BreakerOpen:
		return 2
	default:
		return 0
	}
}
