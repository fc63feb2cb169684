package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/internal/analytics"
	"github.com/voxgate/voxgate/internal/api"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/durable"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/provider"
	"github.com/voxgate/voxgate/internal/queue"
	"github.com/voxgate/voxgate/internal/ratelimit"
	"github.com/voxgate/voxgate/internal/storage"
	"github.com/voxgate/voxgate/internal/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Database connection (optional — the job audit trail degrades to no-ops)
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Warn("database unavailable, running without job history", "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	jobs, err := database.NewJobStore(ctx, db)
	if err != nil {
		slog.Error("failed to prepare job store", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var store durable.Store = durable.NewRedisStore(rdb)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, workflow state will not survive restarts", "error", err)
		store = durable.NewMemoryStore()
	}

	registry := provider.NewRegistry(cfg.STT.APIKeys, cfg.STT.WSOverrides)
	defaultProv, err := cfg.DefaultProviderParsed()
	if err != nil {
		slog.Error("invalid STT_DEFAULT_PROVIDER", "error", err)
		os.Exit(1)
	}
	registry.SetDefault(defaultProv)

	audio := storage.NewAudioStorage(cfg.Storage.SupabaseURL, cfg.Storage.ServiceKey, cfg.Storage.Bucket)
	engine := workflow.NewEngine(store, registry, audio, workflow.Options{
		PublicBaseURL: cfg.STT.PublicBaseURL,
		CallbackWait:  cfg.STT.CallbackWait,
		APIBases:      cfg.STT.APIBases,
		Jobs:          jobs,
	})

	var reporter analytics.Reporter = analytics.Noop{}
	if cfg.Analytics.Endpoint != "" {
		reporter = analytics.NewHTTPReporter(cfg.Analytics.Endpoint, cfg.Analytics.APIKey, logger)
	}

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	router := api.NewRouter(api.Dependencies{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Registry: registry,
		Engine:   engine,
		Jobs:     jobs,
		Queue:    queueClient,
		Limiter:  ratelimit.New(store),
		Reporter: reporter,
		Tracker:  health.NewTracker(),
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "providers", len(registry.ConfiguredProviders()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
