package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/model-webhooks/internal/api"
	"github.com/Priya8975/model-webhooks/internal/config"
	"github.com/Priya8975/model-webhooks/internal/engine"
	"github.com/Priya8975/model-webhooks/internal/filter"
	"github.com/Priya8975/model-webhooks/internal/listener"
	"github.com/Priya8975/model-webhooks/internal/payload"
	"github.com/Priya8975/model-webhooks/internal/routing"
	"github.com/Priya8975/model-webhooks/internal/store"
	"github.com/Priya8975/model-webhooks/internal/topic"
	"github.com/Priya8975/model-webhooks/internal/trigger"
	ws "github.com/Priya8975/model-webhooks/internal/websocket"
	"github.com/Priya8975/model-webhooks/internal/worker"
	"github.com/Priya8975/model-webhooks/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	encoder, err := payload.Lookup(cfg.PayloadEncoder)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, migrations.FS); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	if err := topic.Reconcile(ctx, pgStore, cfg.Models, logger); err != nil {
		if !store.IsUndefinedTable(err) {
			logger.Error("failed to reconcile topics", "error", err)
			os.Exit(1)
		}
		logger.Warn("topics table missing, skipping reconciliation")
	}

	// Initialize Redis
	redisClient, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	// Routing
	var cache routing.Cache
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		cache = routing.NewRedisCache(redisClient, cfg.CacheTTL)
	default:
		cache = routing.NewMemoryCache(routing.MemoryCacheOptions{TTL: cfg.CacheTTL})
	}
	source := routing.NewSource(pgStore, cache, cfg.UseCache, cfg.StoreTimeout, logger)
	matcher := routing.NewMatcher(source, filter.NewEvaluator(), cfg.StoreTimeout, logger)

	// Delivery
	queue := engine.NewQueue(redisClient, logger)
	circuitBreaker := engine.NewCircuitBreaker(redisClient, logger, engine.CircuitBreakerOptions{})
	rateLimiter := engine.NewRateLimiter(redisClient, cfg.RateLimit, logger)

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	opts := worker.Options{
		Scheduler:      queue,
		CircuitBreaker: circuitBreaker,
		RateLimiter:    rateLimiter,
		Hub:            hub,
	}
	if cfg.StoreEvents {
		opts.Events = pgStore
	}
	deliverer := worker.NewDeliverer(pgStore, logger, opts)

	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)
	pool.Start(ctx)

	dispatcher := worker.NewDispatcher(queue, pool, logger)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Start(ctx)
	}()

	// Lifecycle listeners
	bus := listener.NewBus(logger)
	lst := listener.New(matcher, queue, encoder, cfg.MaxRetries, logger)
	uids := lst.Connect(bus, cfg.Models)
	logger.Info("lifecycle listeners connected", "listeners", len(uids))

	tr := trigger.New(deliverer, logger, trigger.Options{Encoder: encoder})

	// Setup router
	router := api.NewRouter(api.Deps{
		Bus:            bus,
		Matcher:        matcher,
		Subscribers:    pgStore,
		Trigger:        tr,
		CircuitBreaker: circuitBreaker,
		Events:         pgStore,
		Metrics:        pgStore,
		Queue:          queue,
		Hub:            hub,
		Checks: map[string]api.Pinger{
			"postgres": pgStore,
			"redis": api.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// The dispatcher must be gone before the pool closes its channel.
	cancel()
	<-dispatcherDone
	pool.Stop()

	logger.Info("server stopped")
}
