package provider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

type AssemblyAIAdapter struct{}

func (AssemblyAIAdapter) Provider() Provider { return AssemblyAI }

func (AssemblyAIAdapter) BuildWSURL(apiBase string, params ListenParams) (*url.URL, error) {
	base := apiBase
	if base == "" {
		base = AssemblyAI.DefaultWSURL()
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse assemblyai url %q: %w", base, err)
	}

	q := url.Values{}
	q.Set("sample_rate", strconv.Itoa(params.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", "true")
	u.RawQuery = q.Encode()
	u.Scheme = wsScheme(u.Host)
	return u, nil
}

func (AssemblyAIAdapter) InitialMessage(string, ListenParams) []byte { return nil }

func (AssemblyAIAdapter) KeepAliveMessage() []byte { return nil }

func (AssemblyAIAdapter) FinalizeMessage() []byte {
	return []byte(`{"type":"Terminate"}`)
}

type assemblyaiStreamEvent struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	EndOfTurn  bool    `json:"end_of_turn"`
	AudioStart float64 `json:"audio_start"`
	AudioEnd   float64 `json:"audio_end"`
}

func (AssemblyAIAdapter) ParseResponse(raw []byte) []StreamResponse {
	var ev assemblyaiStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != "Turn" {
		return nil
	}
	if ev.Transcript == "" {
		return nil
	}
	return []StreamResponse{{
		Type:       responseTypeTranscript,
		Transcript: ev.Transcript,
		IsFinal:    ev.EndOfTurn,
		Start:      ev.AudioStart / 1000,
		End:        ev.AudioEnd / 1000,
	}}
}
