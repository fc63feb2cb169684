// Package llmproxy forwards chat completion requests to OpenRouter with
// server-side model selection and fallback.
package llmproxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voxgate/voxgate/internal/analytics"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/httperr"
)

type Handler struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	reporter   analytics.Reporter
	logger     *slog.Logger
}

func NewHandler(cfg config.LLMConfig, reporter analytics.Reporter, logger *slog.Logger) *Handler {
	return &Handler{
		cfg: cfg,
		// No overall client timeout: streams run as long as the generation
		// does. The non-stream path bounds itself with a context deadline.
		httpClient: &http.Client{},
		reporter:   reporter,
		logger:     logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions. The client never picks
// the model: the gateway substitutes its configured fallback list, using the
// tool-calling list when the request carries tools.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	if h.cfg.OpenRouterKey == "" {
		httperr.Write(w, httperr.MissingConfig("llm proxy is not configured"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		httperr.Write(w, httperr.BadRequest("read request body"))
		return
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		httperr.Write(w, httperr.BadRequest("request body must be a JSON object"))
		return
	}

	models := h.cfg.ModelsDefault
	if wantsTools(req) {
		models = h.cfg.ModelsToolCalling
	}
	if len(models) == 0 {
		httperr.Write(w, httperr.MissingConfig("no models configured"))
		return
	}

	// OpenRouter's "models" array is the fallback chain; the first entry
	// doubles as the primary, so any client-supplied model is discarded.
	delete(req, "model")
	req["models"] = models
	req["provider"] = map[string]any{"sort": "latency"}

	stream, _ := req["stream"].(bool)
	if stream {
		// Ask OpenRouter to append a usage chunk to the stream.
		req["stream_options"] = map[string]any{"include_usage": true}
	}

	outBody, err := json.Marshal(req)
	if err != nil {
		httperr.Write(w, httperr.Internal(err))
		return
	}

	ctx := r.Context()
	if !stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(h.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(outBody))
	if err != nil {
		httperr.Write(w, httperr.Internal(err))
		return
	}
	upReq.Header.Set("Authorization", "Bearer "+h.cfg.OpenRouterKey)
	upReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(upReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			httperr.Write(w, httperr.Timeout("generation timed out", err))
			return
		}
		httperr.Write(w, httperr.BadGateway("upstream request failed", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		h.logger.Warn("openrouter error", "status", resp.StatusCode, "body", string(raw))
		httperr.Write(w, httperr.BadGateway(
			fmt.Sprintf("upstream returned %d", resp.StatusCode), nil))
		return
	}

	if stream {
		h.relayStream(w, resp)
		return
	}
	h.relayComplete(w, resp)
}

func (h *Handler) relayComplete(w http.ResponseWriter, resp *http.Response) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		httperr.Write(w, httperr.BadGateway("read upstream response", err))
		return
	}

	var parsed openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Usage.TotalTokens > 0 {
		h.reporter.ReportGeneration(context.Background(), analytics.GenerationEvent{
			Model:        parsed.Model,
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// relayStream copies SSE events through verbatim while watching for the
// final usage chunk so the generation can still be reported.
func (h *Handler) relayStream(w http.ResponseWriter, resp *http.Response) {
	// The server's WriteTimeout would cut long generations off mid-stream;
	// lift it for this response only.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var usage *openai.Usage
	var model string
	for scanner.Scan() {
		line := scanner.Text()
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return
		}
		if line == "" && flusher != nil {
			flusher.Flush()
		}

		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err == nil {
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("stream interrupted", "error", err)
	}
	if flusher != nil {
		flusher.Flush()
	}

	if usage != nil {
		h.reporter.ReportGeneration(context.Background(), analytics.GenerationEvent{
			Model:        model,
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		})
	}
}

// wantsTools reports whether the request will actually invoke tools: it must
// carry a non-empty tools array and not opt out via tool_choice "none".
func wantsTools(req map[string]any) bool {
	tools, ok := req["tools"].([]any)
	if !ok || len(tools) == 0 {
		return false
	}
	if choice, ok := req["tool_choice"].(string); ok && choice == "none" {
		return false
	}
	return true
}
