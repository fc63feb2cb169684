package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// StreamResponse is the normalized real-time transcription event the
// gateway emits to clients regardless of the upstream provider.
type StreamResponse struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Speaker    int     `json:"speaker,omitempty"`
	Start      float64 `json:"start,omitempty"`
	End        float64 `json:"end,omitempty"`
	Language   string  `json:"language,omitempty"`
}

const responseTypeTranscript = "transcript"

// BatchResult is a completed batch transcription: the flattened text plus
// the provider's raw response for callers that need provider detail.
type BatchResult struct {
	Transcript string          `json:"transcript"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// CallbackPayload is the body a provider posts to the gateway's webhook.
// Some providers post the full transcript, others only an id to fetch by.
type CallbackPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message"`
	Raw    json.RawMessage
}

func ParseCallbackPayload(body []byte) (CallbackPayload, error) {
	var p CallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("decode callback payload: %w", err)
	}
	p.Raw = append(json.RawMessage(nil), body...)
	return p, nil
}

// Adapter translates between a provider's real-time wire protocol and the
// gateway's. Implementations are stateless and safe for concurrent use.
type Adapter interface {
	Provider() Provider

	// BuildWSURL constructs the upstream dial URL for a live session.
	BuildWSURL(apiBase string, params ListenParams) (*url.URL, error)

	// InitialMessage is an optional frame the gateway sends upstream right
	// after the dial, before relaying client frames. Nil means none.
	InitialMessage(apiKey string, params ListenParams) []byte

	// KeepAliveMessage and FinalizeMessage are the provider's control
	// frames; KeepAliveMessage may be nil when the provider has none.
	KeepAliveMessage() []byte
	FinalizeMessage() []byte

	// ParseResponse normalizes one upstream text frame. Heartbeats and
	// bookkeeping events map to an empty slice, never an error.
	ParseResponse(raw []byte) []StreamResponse
}

// BatchAdapter transcribes a complete audio payload synchronously.
type BatchAdapter interface {
	TranscribeFile(ctx context.Context, client *http.Client, apiBase, apiKey string, params ListenParams, audio []byte) (*BatchResult, error)
}

// CallbackAdapter runs the asynchronous flow: submit a remote audio URL
// with a callback, then turn the eventual callback into a transcript.
type CallbackAdapter interface {
	// SubmitCallback starts a provider-side transcription that will POST to
	// callbackURL on completion. Returns the provider's request id.
	SubmitCallback(ctx context.Context, client *http.Client, apiBase, apiKey, audioURL, callbackURL string, params ListenParams) (string, error)

	// ProcessCallback validates the callback and produces the final result,
	// fetching the transcript separately when the payload only carries an
	// id. Provider-side cleanup is best-effort and never fails the call.
	ProcessCallback(ctx context.Context, client *http.Client, apiBase, apiKey string, payload CallbackPayload) (*BatchResult, error)
}

// UnexpectedStatusError reports a non-2xx provider response. The body is
// preserved for logs; HTTP boundaries must not echo it to clients.
type UnexpectedStatusError struct {
	Status int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Terminal reports whether the provider rejected the request outright, in
// which case retrying with the same input cannot succeed.
func (e *UnexpectedStatusError) Terminal() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// ForProvider returns the adapter for p. The switch is exhaustive over
// AllProviders; the conformance test keeps it that way.
func ForProvider(p Provider) Adapter {
	switch p {
	case Deepgram:
		return DeepgramAdapter{}
	case Soniox:
		return SonioxAdapter{}
	case AssemblyAI:
		return AssemblyAIAdapter{}
	case ElevenLabs:
		return ElevenLabsAdapter{}
	case Gladia:
		return GladiaAdapter{}
	case Mistral:
		return MistralAdapter{}
	case Argmax:
		return ArgmaxAdapter{}
	default:
		panic("unreachable")
	}
}

// doJSON issues an HTTP request with a JSON body and decodes a JSON
// response into out, translating non-2xx statuses to UnexpectedStatusError.
func doJSON(ctx context.Context, client *http.Client, method, rawURL string, headers map[string]string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UnexpectedStatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}
