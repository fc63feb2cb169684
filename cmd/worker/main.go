package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/durable"
	"github.com/voxgate/voxgate/internal/provider"
	"github.com/voxgate/voxgate/internal/queue"
	"github.com/voxgate/voxgate/internal/queue/workers"
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

	// The worker shares workflow state with the API through Redis; unlike
	// the API it cannot run on the in-memory fallback.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis unavailable", "error", err)
		os.Exit(1)
	}

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

	providerRegistry := provider.NewRegistry(cfg.STT.APIKeys, cfg.STT.WSOverrides)
	defaultProv, err := cfg.DefaultProviderParsed()
	if err != nil {
		slog.Error("invalid STT_DEFAULT_PROVIDER", "error", err)
		os.Exit(1)
	}
	providerRegistry.SetDefault(defaultProv)

	audio := storage.NewAudioStorage(cfg.Storage.SupabaseURL, cfg.Storage.ServiceKey, cfg.Storage.Bucket)
	engine := workflow.NewEngine(durable.NewRedisStore(rdb), providerRegistry, audio, workflow.Options{
		PublicBaseURL: cfg.STT.PublicBaseURL,
		CallbackWait:  cfg.STT.CallbackWait,
		APIBases:      cfg.STT.APIBases,
		Jobs:          jobs,
	})

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()

	// Register workers
	sttWorker := workers.NewSttWorker(engine, logger)

	registry.Register(queue.TypeSttTranscribe, asynq.HandlerFunc(sttWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
