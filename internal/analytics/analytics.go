// Package analytics reports usage events to an external collector. Every
// report is fire-and-forget: a dropped event must never affect a request.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type SttEvent struct {
	Provider        string  `json:"provider"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type GenerationEvent struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

type Reporter interface {
	ReportStt(ctx context.Context, ev SttEvent)
	ReportGeneration(ctx context.Context, ev GenerationEvent)
}

// Noop discards all events, used when no collector is configured.
type Noop struct{}

func (Noop) ReportStt(context.Context, SttEvent)               {}
func (Noop) ReportGeneration(context.Context, GenerationEvent) {}

type HTTPReporter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPReporter(endpoint, apiKey string, logger *slog.Logger) *HTTPReporter {
	return &HTTPReporter{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (r *HTTPReporter) ReportStt(ctx context.Context, ev SttEvent) {
	r.post(ctx, "stt_session", ev)
}

func (r *HTTPReporter) ReportGeneration(ctx context.Context, ev GenerationEvent) {
	r.post(ctx, "llm_generation", ev)
}

func (r *HTTPReporter) post(ctx context.Context, eventType string, payload any) {
	body, err := json.Marshal(map[string]any{
		"type":       eventType,
		"properties": payload,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		r.logger.Warn("analytics marshal failed", "type", eventType, "error", err)
		return
	}

	// Detached from the request context so an early client disconnect does
	// not lose the event.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			r.logger.Warn("analytics request failed", "type", eventType, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			r.logger.Warn("analytics delivery failed", "type", eventType, "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			r.logger.Warn("analytics rejected", "type", eventType, "status", resp.StatusCode)
		}
	}()
}
