// Package workers holds the asynq task handlers run by the worker binary.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/voxgate/voxgate/internal/queue"
	"github.com/voxgate/voxgate/internal/workflow"
)

// SttWorker drives queued transcription jobs through the workflow engine.
type SttWorker struct {
	engine *workflow.Engine
	logger *slog.Logger
}

func NewSttWorker(engine *workflow.Engine, logger *slog.Logger) *SttWorker {
	return &SttWorker{engine: engine, logger: logger}
}

func (w *SttWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload queue.SttTranscribePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}

	job := workflow.Job{
		Key:       payload.Key,
		UserID:    payload.UserID,
		FileID:    payload.FileID,
		Provider:  payload.Provider,
		Model:     payload.Model,
		Languages: payload.Languages,
	}

	start := time.Now()
	err := w.engine.Run(ctx, job)
	if err == nil {
		w.logger.Info("stt job done",
			"key", job.Key,
			"provider", job.Provider,
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	if workflow.IsTerminal(err) {
		w.logger.Error("stt job failed permanently", "key", job.Key, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	w.logger.Warn("stt job failed, will retry", "key", job.Key, "error", err)
	return err
}
