package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type GladiaAdapter struct{}

func (GladiaAdapter) Provider() Provider { return Gladia }

// BuildWSURL is only meaningful after session init; the returned URL is
// the init endpoint, never dialed directly.
func (GladiaAdapter) BuildWSURL(apiBase string, _ ListenParams) (*url.URL, error) {
	base := apiBase
	if base == "" {
		base = Gladia.DefaultWSURL()
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse gladia url %q: %w", base, err)
	}
	return u, nil
}

// SessionInitConfig is the JSON body posted to the live endpoint to obtain
// a one-time signed WS URL.
func (GladiaAdapter) SessionInitConfig(params ListenParams) map[string]any {
	cfg := map[string]any{
		"encoding":    "wav/pcm",
		"sample_rate": params.SampleRate,
		"bit_depth":   16,
		"channels":    params.Channels,
	}
	if len(params.Languages) > 0 {
		cfg["language_config"] = map[string]any{
			"languages":      params.Languages,
			"code_switching": len(params.Languages) > 1,
		}
	}
	return cfg
}

// InitSession exchanges the API key for the signed WS URL.
func (a GladiaAdapter) InitSession(ctx context.Context, client *http.Client, initURL, apiKey string, params ListenParams) (string, error) {
	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	headers := map[string]string{Gladia.Auth().HeaderName: apiKey}
	if err := doJSON(ctx, client, http.MethodPost, initURL, headers, a.SessionInitConfig(params), &out); err != nil {
		return "", fmt.Errorf("init gladia session: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("gladia session init returned no url")
	}
	return out.URL, nil
}

func (GladiaAdapter) InitialMessage(string, ListenParams) []byte { return nil }

func (GladiaAdapter) KeepAliveMessage() []byte { return nil }

func (GladiaAdapter) FinalizeMessage() []byte {
	return []byte(`{"type":"stop_recording"}`)
}

type gladiaStreamEvent struct {
	Type string `json:"type"`
	Data struct {
		IsFinal   bool `json:"is_final"`
		Utterance struct {
			Text     string  `json:"text"`
			Start    float64 `json:"start"`
			End      float64 `json:"end"`
			Language string  `json:"language"`
		} `json:"utterance"`
	} `json:"data"`
}

func (GladiaAdapter) ParseResponse(raw []byte) []StreamResponse {
	var ev gladiaStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != "transcript" {
		return nil
	}
	if ev.Data.Utterance.Text == "" {
		return nil
	}
	return []StreamResponse{{
		Type:       responseTypeTranscript,
		Transcript: ev.Data.Utterance.Text,
		IsFinal:    ev.Data.IsFinal,
		Start:      ev.Data.Utterance.Start,
		End:        ev.Data.Utterance.End,
		Language:   ev.Data.Utterance.Language,
	}}
}
