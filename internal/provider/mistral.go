package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

type MistralAdapter struct{}

func (MistralAdapter) Provider() Provider { return Mistral }

func (MistralAdapter) BuildWSURL(apiBase string, params ListenParams) (*url.URL, error) {
	base := apiBase
	if base == "" {
		base = Mistral.DefaultWSURL()
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse mistral url %q: %w", base, err)
	}

	model := params.Model
	if model == "" {
		model = Mistral.DefaultLiveModel()
	}
	q := url.Values{}
	q.Set("model", model)
	u.RawQuery = q.Encode()
	u.Scheme = wsScheme(u.Host)
	return u, nil
}

// InitialMessage opens the session with the audio format before any
// input_audio.append events arrive.
func (MistralAdapter) InitialMessage(_ string, params ListenParams) []byte {
	msg := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"audio_format": map[string]any{
				"encoding":    "pcm_s16le",
				"sample_rate": strconv.Itoa(params.SampleRate),
			},
		},
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return out
}

// TransformClientFrame wraps binary audio as input_audio.append events.
// The realtime endpoint only accepts JSON text frames, so raw PCM must be
// base64-encoded before it goes upstream. Text frames pass through.
func (MistralAdapter) TransformClientFrame(data []byte, text bool) ([]byte, bool, bool) {
	if text {
		return data, true, true
	}
	if len(data) == 0 {
		return nil, false, false
	}
	msg := map[string]string{
		"type":  "input_audio.append",
		"audio": base64.StdEncoding.EncodeToString(data),
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil, false, false
	}
	return out, true, true
}

func (MistralAdapter) KeepAliveMessage() []byte { return nil }

func (MistralAdapter) FinalizeMessage() []byte {
	return []byte(`{"type":"input_audio.end"}`)
}

type mistralStreamEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Audio struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"audio"`
}

func (MistralAdapter) ParseResponse(raw []byte) []StreamResponse {
	var ev mistralStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	switch ev.Type {
	case "transcription.text.delta":
		if ev.Text == "" {
			return nil
		}
		return []StreamResponse{{
			Type:       responseTypeTranscript,
			Transcript: ev.Text,
			Start:      ev.Audio.Start,
			End:        ev.Audio.End,
		}}
	case "transcription.text.done":
		if ev.Text == "" {
			return nil
		}
		return []StreamResponse{{
			Type:       responseTypeTranscript,
			Transcript: ev.Text,
			IsFinal:    true,
			Start:      ev.Audio.Start,
			End:        ev.Audio.End,
		}}
	default:
		// session.created, session.updated, language detection events.
		return nil
	}
}
