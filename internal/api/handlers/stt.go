package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/httperr"
	"github.com/voxgate/voxgate/internal/queue"
	"github.com/voxgate/voxgate/internal/ratelimit"
	"github.com/voxgate/voxgate/internal/webhook"
	"github.com/voxgate/voxgate/internal/workflow"
)

// SttEnqueuer abstracts the task queue so handler tests avoid Redis.
type SttEnqueuer interface {
	EnqueueSttTranscribe(payload queue.SttTranscribePayload) error
}

type SttHandler struct {
	engine          *workflow.Engine
	jobs            *database.JobStore
	queue           SttEnqueuer
	limiter         *ratelimit.Limiter
	limitCfg        ratelimit.Config
	defaultProvider string
	webhookSecret   string
	logger          *slog.Logger
}

func NewSttHandler(engine *workflow.Engine, jobs *database.JobStore, q SttEnqueuer, limiter *ratelimit.Limiter, limitCfg ratelimit.Config, defaultProvider, webhookSecret string, logger *slog.Logger) *SttHandler {
	return &SttHandler{
		engine:          engine,
		jobs:            jobs,
		queue:           q,
		limiter:         limiter,
		limitCfg:        limitCfg,
		defaultProvider: defaultProvider,
		webhookSecret:   webhookSecret,
		logger:          logger,
	}
}

type startRequest struct {
	FileID    string   `json:"file_id"`
	Provider  string   `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Start handles POST /stt/start: admits the request under the per-user
// quota, registers the job, and queues it for a worker.
func (h *SttHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		httperr.Write(w, httperr.BadRequest("request body must be JSON"))
		return
	}
	if req.FileID == "" {
		httperr.Write(w, httperr.BadRequest("file_id is required"))
		return
	}
	if req.Provider == "" {
		req.Provider = h.defaultProvider
	}

	if err := h.limiter.CheckAndConsume(r.Context(), "stt:"+userID, h.limitCfg); err != nil {
		if errors.Is(err, ratelimit.ErrLimitExceeded) {
			httperr.Write(w, httperr.RateLimited("transcription quota exceeded"))
			return
		}
		httperr.Write(w, httperr.Internal(err))
		return
	}

	job := workflow.Job{
		Key:       uuid.NewString(),
		UserID:    userID,
		FileID:    req.FileID,
		Provider:  req.Provider,
		Model:     req.Model,
		Languages: req.Languages,
	}

	if err := h.jobs.Insert(r.Context(), job.Key, job.UserID, job.FileID, job.Provider, string(workflow.StatusPending)); err != nil {
		h.logger.Warn("job audit insert failed", "key", job.Key, "error", err)
	}
	if err := h.engine.Begin(r.Context(), job); err != nil {
		httperr.Write(w, httperr.Internal(err))
		return
	}
	if err := h.queue.EnqueueSttTranscribe(queue.SttTranscribePayload{
		Key:       job.Key,
		UserID:    job.UserID,
		FileID:    job.FileID,
		Provider:  job.Provider,
		Model:     job.Model,
		Languages: job.Languages,
	}); err != nil {
		httperr.Write(w, httperr.BadGateway("could not queue transcription", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.Key})
}

// Status handles GET /stt/status/{id}.
func (h *SttHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.engine.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			httperr.Write(w, httperr.NotFound("unknown transcription id"))
			return
		}
		httperr.Write(w, httperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Webhook handles POST /webhooks/stt/{id}: the provider's completion
// callback. The signature is checked before the body is even parsed.
func (h *SttHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		httperr.Write(w, httperr.BadRequest("read callback body"))
		return
	}
	if !webhook.Verify(body, h.webhookSecret, r.Header.Get(webhook.Header)) {
		httperr.Write(w, httperr.Unauthorized("invalid webhook signature"))
		return
	}

	if err := h.engine.ResolveCallback(r.Context(), id, body); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			httperr.Write(w, httperr.NotFound("unknown transcription id"))
			return
		}
		httperr.Write(w, httperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// Jobs handles GET /stt/jobs: the caller's recent transcription history.
func (h *SttHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	rows, err := h.jobs.ListByUser(r.Context(), auth.UserID(r.Context()), 50)
	if err != nil {
		httperr.Write(w, httperr.Internal(err))
		return
	}
	if rows == nil {
		rows = []database.JobRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": rows})
}
