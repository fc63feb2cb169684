package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Deepgram multi-language mode is only valid for specific model+language
// combinations; anything else falls back to detection with hints.
var (
	nova2MultiLangs = []string{"en", "es"}
	nova3MultiLangs = []string{"en", "es", "fr", "de", "hi", "ru", "pt", "ja", "it", "nl"}
)

const (
	keytermCap  = 50
	keywordsCap = 100
)

type DeepgramAdapter struct{}

func (DeepgramAdapter) Provider() Provider { return Deepgram }

func listenEndpointURL(apiBase string) (*url.URL, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("parse api base %q: %w", apiBase, err)
	}
	if !strings.HasSuffix(u.Path, "/listen") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/listen"
	}
	return u, nil
}

func (DeepgramAdapter) BuildWSURL(apiBase string, params ListenParams) (*url.URL, error) {
	u, err := listenEndpointURL(apiBase)
	if err != nil {
		return nil, err
	}

	model := params.Model
	if model == "" {
		model = Deepgram.DefaultLiveModel()
	}

	q := url.Values{}
	appendLanguageQuery(q, model, params.Languages)
	q.Set("model", model)
	q.Set("channels", strconv.Itoa(params.Channels))
	q.Set("filler_words", "false")
	q.Set("interim_results", "true")
	q.Set("mip_opt_out", "true")
	q.Set("sample_rate", strconv.Itoa(params.SampleRate))
	q.Set("encoding", "linear16")
	q.Set("diarize", "true")
	q.Set("multichannel", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("vad_events", "false")
	q.Set("numerals", "true")

	redemption := params.RedemptionTimeMS
	if redemption == 0 {
		redemption = 400
	}
	q.Set("redemption_time_ms", strconv.Itoa(redemption))

	appendKeywordQuery(q, model, params.Keywords)

	u.RawQuery = q.Encode()
	u.Scheme = wsScheme(u.Host)
	return u, nil
}

func (DeepgramAdapter) InitialMessage(string, ListenParams) []byte { return nil }

func (DeepgramAdapter) KeepAliveMessage() []byte {
	return []byte(`{"type":"KeepAlive"}`)
}

func (DeepgramAdapter) FinalizeMessage() []byte {
	return []byte(`{"type":"Finalize"}`)
}

type deepgramWord struct {
	Word    string  `json:"word"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker int     `json:"speaker"`
}

type deepgramStreamEvent struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string         `json:"transcript"`
			Words      []deepgramWord `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (DeepgramAdapter) ParseResponse(raw []byte) []StreamResponse {
	var ev deepgramStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != "Results" {
		return nil
	}
	if len(ev.Channel.Alternatives) == 0 {
		return nil
	}
	alt := ev.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}

	resp := StreamResponse{
		Type:       responseTypeTranscript,
		Transcript: alt.Transcript,
		IsFinal:    ev.IsFinal,
		Start:      ev.Start,
		End:        ev.Start + ev.Duration,
	}
	if len(alt.Words) > 0 {
		resp.Speaker = alt.Words[0].Speaker
	}
	return []StreamResponse{resp}
}

// TransformClientParams rewrites the keyword-family parameters of a
// pass-through session into the single parameter the selected model
// accepts, capped at the model's limit with client order preserved.
func (DeepgramAdapter) TransformClientParams(qp *QueryParams) {
	keywords := qp.Keywords()
	if len(keywords) == 0 {
		return
	}

	model := qp.First("model")
	param, limit := "keywords", keywordsCap
	if usesKeyterms(model) {
		param, limit = "keyterm", keytermCap
	}
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}

	for _, key := range []string{"keyword", "keywords", "keyterm"} {
		qp.Delete(key)
	}
	qp.Set(param, Single(strings.Join(keywords, ",")))
}

func usesKeyterms(model string) bool {
	return strings.Contains(model, "nova-3") || strings.Contains(model, "parakeet")
}

func canUseMulti(model string, langs []string) bool {
	if len(langs) < 2 {
		return false
	}
	var multiLangs []string
	switch {
	case strings.Contains(model, "nova-3"):
		multiLangs = nova3MultiLangs
	case strings.Contains(model, "nova-2"):
		multiLangs = nova2MultiLangs
	default:
		return false
	}
	for _, lang := range langs {
		found := false
		for _, m := range multiLangs {
			if m == lang {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func appendLanguageQuery(q url.Values, model string, langs []string) {
	switch len(langs) {
	case 0:
		q.Set("detect_language", "true")
	case 1:
		q.Set("language", langs[0])
	default:
		if canUseMulti(model, langs) {
			q.Set("language", "multi")
		} else {
			q.Set("detect_language", "true")
		}
		for _, lang := range langs {
			q.Add("languages", lang)
		}
	}
}

func appendKeywordQuery(q url.Values, model string, keywords []string) {
	if len(keywords) == 0 {
		return
	}
	param, limit := "keywords", keywordsCap
	if usesKeyterms(model) {
		param, limit = "keyterm", keytermCap
	}
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	for _, kw := range keywords {
		q.Add(param, kw)
	}
}

func deepgramBatchURL(apiBase string, params ListenParams) (*url.URL, error) {
	u, err := listenEndpointURL(apiBase)
	if err != nil {
		return nil, err
	}

	model := params.Model
	if model == "" {
		model = Deepgram.DefaultBatchModel()
	}

	q := url.Values{}
	appendLanguageQuery(q, model, params.Languages)
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(params.SampleRate))
	q.Set("diarize", "true")
	q.Set("multichannel", "false")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("utterances", "true")
	q.Set("numerals", "true")
	q.Set("filler_words", "false")
	q.Set("mip_opt_out", "true")
	appendKeywordQuery(q, model, params.Keywords)

	u.RawQuery = q.Encode()
	return u, nil
}

type deepgramBatchResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func deepgramTranscript(raw []byte) string {
	var resp deepgramBatchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ""
	}
	var parts []string
	for _, ch := range resp.Results.Channels {
		if len(ch.Alternatives) > 0 && ch.Alternatives[0].Transcript != "" {
			parts = append(parts, ch.Alternatives[0].Transcript)
		}
	}
	return strings.Join(parts, "\n")
}

func (DeepgramAdapter) TranscribeFile(ctx context.Context, client *http.Client, apiBase, apiKey string, params ListenParams, audio []byte) (*BatchResult, error) {
	u, err := deepgramBatchURL(apiBase, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", fmt.Sprintf("audio/raw;encoding=linear16;rate=%d", params.SampleRate))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post batch audio: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read batch response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UnexpectedStatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	return &BatchResult{Transcript: deepgramTranscript(raw), Raw: raw}, nil
}

func (DeepgramAdapter) SubmitCallback(ctx context.Context, client *http.Client, apiBase, apiKey, audioURL, callbackURL string, params ListenParams) (string, error) {
	u, err := deepgramBatchURL(apiBase, params)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("callback", callbackURL)
	q.Set("callback_method", "post")
	u.RawQuery = q.Encode()

	var out struct {
		RequestID string `json:"request_id"`
	}
	err = doJSON(ctx, client, http.MethodPost, u.String(),
		map[string]string{"Authorization": "Token " + apiKey},
		map[string]string{"url": audioURL}, &out)
	if err != nil {
		return "", fmt.Errorf("submit deepgram transcription: %w", err)
	}
	if out.RequestID == "" {
		return "", fmt.Errorf("deepgram submit response missing request_id")
	}
	return out.RequestID, nil
}

// ProcessCallback for Deepgram is local work only: the callback body is the
// complete batch response, so there is nothing to fetch or clean up.
func (DeepgramAdapter) ProcessCallback(_ context.Context, _ *http.Client, _, _ string, payload CallbackPayload) (*BatchResult, error) {
	if payload.Status == "error" {
		msg := payload.Error
		if msg == "" {
			msg = "transcription failed"
		}
		return nil, fmt.Errorf("deepgram transcription failed: %s", msg)
	}
	return &BatchResult{Transcript: deepgramTranscript(payload.Raw), Raw: payload.Raw}, nil
}
