package llmproxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/analytics"
	"github.com/voxgate/voxgate/internal/config"
)

type captureReporter struct {
	mu     sync.Mutex
	events []analytics.GenerationEvent
}

func (c *captureReporter) ReportStt(context.Context, analytics.SttEvent) {}

func (c *captureReporter) ReportGeneration(_ context.Context, ev analytics.GenerationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureReporter) generations() []analytics.GenerationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]analytics.GenerationEvent(nil), c.events...)
}

func newTestHandler(upstreamURL string) (*Handler, *captureReporter) {
	rep := &captureReporter{}
	h := NewHandler(config.LLMConfig{
		OpenRouterKey:     "sk-test",
		BaseURL:           upstreamURL,
		ModelsDefault:     []string{"openai/gpt-4o-mini", "anthropic/claude-3-5-haiku"},
		ModelsToolCalling: []string{"openai/gpt-4o"},
		Timeout:           2 * time.Second,
	}, rep, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h, rep
}

func doRequest(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)
	return w
}

func TestChatCompletionsSubstitutesModels(t *testing.T) {
	var got map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth header = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"gen-1","model":"openai/gpt-4o-mini","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`)
	}))
	defer upstream.Close()

	h, rep := newTestHandler(upstream.URL)
	w := doRequest(t, h, `{"model":"client-picked","messages":[{"role":"user","content":"hi"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if _, ok := got["model"]; ok {
		t.Error("client model should be stripped")
	}
	models, _ := got["models"].([]any)
	if len(models) != 2 || models[0] != "openai/gpt-4o-mini" {
		t.Errorf("models = %v", models)
	}
	prov, _ := got["provider"].(map[string]any)
	if prov["sort"] != "latency" {
		t.Errorf("provider = %v, want latency sort", prov)
	}

	evs := rep.generations()
	if len(evs) != 1 || evs[0].InputTokens != 10 || evs[0].OutputTokens != 4 {
		t.Errorf("generation events = %+v", evs)
	}
}

func TestChatCompletionsToolCallingList(t *testing.T) {
	var got map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"id":"gen-2","choices":[]}`)
	}))
	defer upstream.Close()

	h, _ := newTestHandler(upstream.URL)
	doRequest(t, h, `{"messages":[],"tools":[{"type":"function","function":{"name":"f"}}]}`)

	models, _ := got["models"].([]any)
	if len(models) != 1 || models[0] != "openai/gpt-4o" {
		t.Errorf("models = %v, want tool-calling list", models)
	}
}

func TestChatCompletionsToolChoiceNoneUsesDefaultList(t *testing.T) {
	var got map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"id":"gen-3","choices":[]}`)
	}))
	defer upstream.Close()

	h, _ := newTestHandler(upstream.URL)
	doRequest(t, h, `{"messages":[],"tools":[{"type":"function"}],"tool_choice":"none"}`)

	models, _ := got["models"].([]any)
	if len(models) != 2 {
		t.Errorf("models = %v, want default list when tools are disabled", models)
	}
}

func TestChatCompletionsStreamPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if opts, _ := req["stream_options"].(map[string]any); opts["include_usage"] != true {
			t.Errorf("stream_options = %v", req["stream_options"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"id\":\"c1\",\"model\":\"openai/gpt-4o-mini\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		io.WriteString(w, "data: {\"id\":\"c1\",\"model\":\"openai/gpt-4o-mini\",\"choices\":[],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":2,\"total_tokens\":9}}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	h, rep := newTestHandler(upstream.URL)
	w := doRequest(t, h, `{"stream":true,"messages":[]}`)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "data: [DONE]") {
		t.Errorf("stream body = %q, want passthrough", w.Body.String())
	}
	evs := rep.generations()
	if len(evs) != 1 || evs[0].InputTokens != 7 || evs[0].Model != "openai/gpt-4o-mini" {
		t.Errorf("generation events = %+v", evs)
	}
}

func TestChatCompletionsStreamOutlivesServerWriteTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 6; i++ {
			io.WriteString(w, "data: {\"id\":\"c1\",\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
			flusher.Flush()
			time.Sleep(70 * time.Millisecond)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	h, _ := newTestHandler(upstream.URL)

	// A short server-wide write timeout must not cut the stream off; the
	// handler lifts the deadline for the SSE response.
	gateway := httptest.NewUnstartedServer(http.HandlerFunc(h.ChatCompletions))
	gateway.Config.WriteTimeout = 100 * time.Millisecond
	gateway.Start()
	defer gateway.Close()

	resp, err := http.Post(gateway.URL, "application/json", strings.NewReader(`{"stream":true,"messages":[]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("stream cut off mid-generation: %v", err)
	}
	if !strings.Contains(string(body), "data: [DONE]") {
		t.Errorf("body = %q, want the full stream through [DONE]", body)
	}
}

func TestChatCompletionsUpstreamErrorIsBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no provider available", http.StatusBadGateway)
	}))
	defer upstream.Close()

	h, _ := newTestHandler(upstream.URL)
	w := doRequest(t, h, `{"messages":[]}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestChatCompletionsTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()

	h, _ := newTestHandler(upstream.URL)
	h.cfg.Timeout = 50 * time.Millisecond
	w := doRequest(t, h, `{"messages":[]}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

func TestChatCompletionsRejectsBadJSON(t *testing.T) {
	h, _ := newTestHandler("http://unused.invalid")
	w := doRequest(t, h, `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChatCompletionsUnconfigured(t *testing.T) {
	h, _ := newTestHandler("http://unused.invalid")
	h.cfg.OpenRouterKey = ""
	w := doRequest(t, h, `{"messages":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 missing_config", w.Code)
	}
}
