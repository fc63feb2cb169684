package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type SonioxAdapter struct{}

func (SonioxAdapter) Provider() Provider { return Soniox }

func (SonioxAdapter) BuildWSURL(apiBase string, _ ListenParams) (*url.URL, error) {
	// Session configuration travels in the first frame, not the URL.
	base := apiBase
	if base == "" {
		base = Soniox.DefaultWSURL()
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse soniox url %q: %w", base, err)
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		u.Scheme = wsScheme(u.Host)
	}
	return u, nil
}

type sonioxConfig struct {
	APIKey                   string   `json:"api_key,omitempty"`
	Model                    string   `json:"model"`
	AudioFormat              string   `json:"audio_format"`
	SampleRate               int      `json:"sample_rate"`
	NumChannels              int      `json:"num_channels"`
	LanguageHints            []string `json:"language_hints,omitempty"`
	EnableSpeakerDiarization bool     `json:"enable_speaker_diarization"`
	EnableEndpointDetection  bool     `json:"enable_endpoint_detection"`
}

func (SonioxAdapter) InitialMessage(apiKey string, params ListenParams) []byte {
	model := params.Model
	if model == "" {
		model = Soniox.DefaultLiveModel()
	}
	cfg := sonioxConfig{
		APIKey:                   apiKey,
		Model:                    model,
		AudioFormat:              "pcm_s16le",
		SampleRate:               params.SampleRate,
		NumChannels:              params.Channels,
		LanguageHints:            params.Languages,
		EnableSpeakerDiarization: true,
		EnableEndpointDetection:  true,
	}
	out, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	return out
}

func (SonioxAdapter) KeepAliveMessage() []byte {
	return []byte(`{"type":"keepalive"}`)
}

func (SonioxAdapter) FinalizeMessage() []byte {
	return []byte(`{"type":"finalize"}`)
}

type sonioxToken struct {
	Text     string `json:"text"`
	IsFinal  bool   `json:"is_final"`
	Speaker  string `json:"speaker"`
	StartMS  int    `json:"start_ms"`
	EndMS    int    `json:"end_ms"`
	Language string `json:"language"`
}

type sonioxStreamEvent struct {
	Tokens       []sonioxToken `json:"tokens"`
	ErrorCode    int           `json:"error_code"`
	ErrorMessage string        `json:"error_message"`
}

func (SonioxAdapter) ParseResponse(raw []byte) []StreamResponse {
	var ev sonioxStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	out := make([]StreamResponse, 0, len(ev.Tokens))
	for _, tok := range ev.Tokens {
		if tok.Text == "" {
			continue
		}
		resp := StreamResponse{
			Type:       responseTypeTranscript,
			Transcript: tok.Text,
			IsFinal:    tok.IsFinal,
			Start:      float64(tok.StartMS) / 1000,
			End:        float64(tok.EndMS) / 1000,
			Language:   tok.Language,
		}
		if tok.Speaker != "" {
			if n, err := strconv.Atoi(tok.Speaker); err == nil {
				resp.Speaker = n
			}
		}
		out = append(out, resp)
	}
	return out
}

func sonioxHeaders(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func sonioxModel(params ListenParams) string {
	if params.Model != "" {
		return params.Model
	}
	return Soniox.DefaultBatchModel()
}

type sonioxTranscription struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	FileID       string `json:"file_id"`
	ErrorMessage string `json:"error_message"`
}

func (a SonioxAdapter) uploadFile(ctx context.Context, client *http.Client, apiBase, apiKey string, audio []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write multipart file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/v1/files", &buf)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload audio file: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UnexpectedStatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return out.ID, nil
}

func (a SonioxAdapter) fetchTranscript(ctx context.Context, client *http.Client, apiBase, apiKey, id string) (*BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/v1/transcriptions/"+id+"/transcript", nil)
	if err != nil {
		return nil, fmt.Errorf("create transcript request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read transcript response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UnexpectedStatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode transcript response: %w", err)
	}
	return &BatchResult{Transcript: out.Text, Raw: raw}, nil
}

// cleanup removes the provider-side transcription and its uploaded file.
// Failures are logged and swallowed; stale provider state is harmless.
func (a SonioxAdapter) cleanup(ctx context.Context, client *http.Client, apiBase, apiKey, transcriptionID, fileID string) {
	if transcriptionID != "" {
		if err := doJSON(ctx, client, http.MethodDelete, apiBase+"/v1/transcriptions/"+transcriptionID, sonioxHeaders(apiKey), nil, nil); err != nil {
			slog.Warn("soniox transcription cleanup failed", "transcription_id", transcriptionID, "error", err)
		}
	}
	if fileID != "" {
		if err := doJSON(ctx, client, http.MethodDelete, apiBase+"/v1/files/"+fileID, sonioxHeaders(apiKey), nil, nil); err != nil {
			slog.Warn("soniox file cleanup failed", "file_id", fileID, "error", err)
		}
	}
}

func (a SonioxAdapter) TranscribeFile(ctx context.Context, client *http.Client, apiBase, apiKey string, params ListenParams, audio []byte) (*BatchResult, error) {
	fileID, err := a.uploadFile(ctx, client, apiBase, apiKey, audio)
	if err != nil {
		return nil, err
	}
	defer a.cleanup(context.WithoutCancel(ctx), client, apiBase, apiKey, "", fileID)

	var created struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"file_id": fileID,
		"model":   sonioxModel(params),
	}
	if len(params.Languages) > 0 {
		body["language_hints"] = params.Languages
	}
	if err := doJSON(ctx, client, http.MethodPost, apiBase+"/v1/transcriptions", sonioxHeaders(apiKey), body, &created); err != nil {
		return nil, fmt.Errorf("create soniox transcription: %w", err)
	}
	defer a.cleanup(context.WithoutCancel(ctx), client, apiBase, apiKey, created.ID, "")

	return PollUntil(ctx, PollConfig{
		Interval:       2 * time.Second,
		MaxAttempts:    60,
		TimeoutMessage: "soniox transcription did not complete in time",
	}, func(ctx context.Context) (*BatchResult, PollStatus, error) {
		var tr sonioxTranscription
		if err := doJSON(ctx, client, http.MethodGet, apiBase+"/v1/transcriptions/"+created.ID, sonioxHeaders(apiKey), nil, &tr); err != nil {
			return nil, PollFailed, fmt.Errorf("poll soniox transcription: %w", err)
		}
		switch tr.Status {
		case "completed":
			result, err := a.fetchTranscript(ctx, client, apiBase, apiKey, created.ID)
			if err != nil {
				return nil, PollFailed, err
			}
			return result, PollComplete, nil
		case "error":
			return nil, PollFailed, fmt.Errorf("soniox transcription failed: %s", tr.ErrorMessage)
		default:
			return nil, PollContinue, nil
		}
	})
}

func (a SonioxAdapter) SubmitCallback(ctx context.Context, client *http.Client, apiBase, apiKey, audioURL, callbackURL string, params ListenParams) (string, error) {
	body := map[string]any{
		"audio_url":   audioURL,
		"model":       sonioxModel(params),
		"webhook_url": callbackURL,
	}
	if len(params.Languages) > 0 {
		body["language_hints"] = params.Languages
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := doJSON(ctx, client, http.MethodPost, apiBase+"/v1/transcriptions", sonioxHeaders(apiKey), body, &out); err != nil {
		return "", fmt.Errorf("submit soniox transcription: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("soniox submit response missing id")
	}
	return out.ID, nil
}

// ProcessCallback handles Soniox's id-only webhook: look up the
// transcription, fetch the transcript when it completed, and delete the
// provider-side records either way.
func (a SonioxAdapter) ProcessCallback(ctx context.Context, client *http.Client, apiBase, apiKey string, payload CallbackPayload) (*BatchResult, error) {
	if payload.ID == "" {
		return nil, fmt.Errorf("soniox callback missing transcription id")
	}

	var tr sonioxTranscription
	if err := doJSON(ctx, client, http.MethodGet, apiBase+"/v1/transcriptions/"+payload.ID, sonioxHeaders(apiKey), nil, &tr); err != nil {
		return nil, fmt.Errorf("fetch soniox transcription: %w", err)
	}
	defer a.cleanup(context.WithoutCancel(ctx), client, apiBase, apiKey, tr.ID, tr.FileID)

	if payload.Status == "error" || tr.Status == "error" {
		msg := tr.ErrorMessage
		if msg == "" {
			msg = payload.Error
		}
		if msg == "" {
			msg = "transcription failed"
		}
		return nil, fmt.Errorf("soniox transcription failed: %s", msg)
	}

	return a.fetchTranscript(ctx, client, apiBase, apiKey, payload.ID)
}
