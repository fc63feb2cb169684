// Package api assembles the HTTP surface: public health and relay routes,
// webhook callbacks, and the JWT-protected transcription API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/internal/analytics"
	"github.com/voxgate/voxgate/internal/api/handlers"
	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/llmproxy"
	"github.com/voxgate/voxgate/internal/provider"
	"github.com/voxgate/voxgate/internal/ratelimit"
	"github.com/voxgate/voxgate/internal/workflow"
)

type Dependencies struct {
	Config   *config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Registry *provider.Registry
	Engine   *workflow.Engine
	Jobs     *database.JobStore
	Queue    handlers.SttEnqueuer
	Limiter  *ratelimit.Limiter
	Reporter analytics.Reporter
	Tracker  *health.Tracker
	Logger   *slog.Logger
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(middleware.NewRateLimiter(100, 200).Limit)

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Registry, deps.Tracker)
	listenHandler := handlers.NewListenHandler(deps.Registry, cfg.STT.ConnectTimeout, deps.Reporter, deps.Tracker, deps.Logger)
	sttHandler := handlers.NewSttHandler(deps.Engine, deps.Jobs, deps.Queue, deps.Limiter,
		ratelimit.Config{Window: cfg.STT.RateLimitWindow, Max: cfg.STT.RateLimitMax},
		cfg.STT.DefaultProvider, cfg.STT.WebhookSecret, deps.Logger)
	llmHandler := llmproxy.NewHandler(cfg.LLM, deps.Reporter, deps.Logger)

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Get("/status", healthHandler.Status)

	r.Get("/listen", listenHandler.Listen)
	r.Post("/webhooks/stt/{id}", sttHandler.Webhook)
	r.Post("/v1/chat/completions", llmHandler.ChatCompletions)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.JWTSecret))
		r.Post("/stt/start", sttHandler.Start)
		r.Get("/stt/status/{id}", sttHandler.Status)
		r.Get("/stt/jobs", sttHandler.Jobs)
	})

	return r
}
