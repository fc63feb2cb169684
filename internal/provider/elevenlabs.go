package provider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

type ElevenLabsAdapter struct{}

func (ElevenLabsAdapter) Provider() Provider { return ElevenLabs }

func (ElevenLabsAdapter) BuildWSURL(apiBase string, params ListenParams) (*url.URL, error) {
	base := apiBase
	if base == "" {
		base = ElevenLabs.DefaultWSURL()
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse elevenlabs url %q: %w", base, err)
	}

	model := params.Model
	if model == "" {
		model = ElevenLabs.DefaultLiveModel()
	}

	q := url.Values{}
	q.Set("model_id", model)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", strconv.Itoa(params.SampleRate))
	if len(params.Languages) == 1 {
		q.Set("language_code", params.Languages[0])
	}
	u.RawQuery = q.Encode()
	u.Scheme = wsScheme(u.Host)
	return u, nil
}

func (ElevenLabsAdapter) InitialMessage(string, ListenParams) []byte { return nil }

func (ElevenLabsAdapter) KeepAliveMessage() []byte { return nil }

func (ElevenLabsAdapter) FinalizeMessage() []byte {
	return []byte(`{"type":"commit"}`)
}

type elevenlabsStreamEvent struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	IsFinal    bool   `json:"is_final"`
	LanguageID string `json:"language_id"`
}

func (ElevenLabsAdapter) ParseResponse(raw []byte) []StreamResponse {
	var ev elevenlabsStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != "transcript" {
		return nil
	}
	if ev.Text == "" {
		return nil
	}
	return []StreamResponse{{
		Type:       responseTypeTranscript,
		Transcript: ev.Text,
		IsFinal:    ev.IsFinal,
		Language:   ev.LanguageID,
	}}
}
