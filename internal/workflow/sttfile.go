// Package workflow runs the durable file-transcription flow: submit audio
// to a provider with a callback URL, wait for the callback, normalize the
// transcript, and clean up. Steps are memoized in the durable store so a
// retried task never re-submits or re-bills.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/durable"
	"github.com/voxgate/voxgate/internal/provider"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

var (
	ErrNotFound = errors.New("workflow not found")

	// errTerminal marks failures that must not be retried.
	errTerminal = errors.New("terminal workflow failure")
)

// Terminal wraps err so IsTerminal reports true for it.
func Terminal(err error) error {
	return fmt.Errorf("%w: %w", errTerminal, err)
}

func IsTerminal(err error) bool {
	if errors.Is(err, errTerminal) {
		return true
	}
	var statusErr *provider.UnexpectedStatusError
	return errors.As(err, &statusErr) && statusErr.Terminal()
}

// Job identifies one transcription run. Key is the workflow id minted at
// submission; everything else is the client's request.
type Job struct {
	Key       string   `json:"key"`
	UserID    string   `json:"user_id"`
	FileID    string   `json:"file_id"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

type statusRecord struct {
	Status    Status `json:"status"`
	Provider  string `json:"provider"`
	RequestID string `json:"request_id,omitempty"`
	Step      string `json:"step,omitempty"`
	Error     string `json:"error,omitempty"`
	UpdatedMS int64  `json:"updated_ms"`
}

// StatusResponse is the public status payload served verbatim by the API.
type StatusResponse struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Provider  string          `json:"provider"`
	RequestID string          `json:"request_id,omitempty"`
	Step      string          `json:"step,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// AudioStore resolves uploaded audio files to provider-fetchable URLs and
// disposes of them afterwards.
type AudioStore interface {
	SignedURL(ctx context.Context, fileID string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, fileID string) error
}

// JobRecorder mirrors workflow transitions into a relational audit trail.
// Implementations must tolerate being called for unknown ids.
type JobRecorder interface {
	UpdateStatus(ctx context.Context, id string, status, errMsg string) error
}

// callbackClient isolates the provider round-trips for testing.
type callbackClient interface {
	Submit(ctx context.Context, sel provider.Selected, audioURL, callbackURL string, params provider.ListenParams) (string, error)
	Process(ctx context.Context, sel provider.Selected, payload provider.CallbackPayload) (*provider.BatchResult, error)
}

type adapterClient struct {
	httpClient *http.Client
	apiBases   map[provider.Provider]string
}

func (c *adapterClient) apiBase(p provider.Provider) string {
	if base := c.apiBases[p]; base != "" {
		return base
	}
	return p.DefaultAPIBase()
}

func (c *adapterClient) callbackAdapter(p provider.Provider) (provider.CallbackAdapter, error) {
	ca, ok := provider.ForProvider(p).(provider.CallbackAdapter)
	if !ok {
		return nil, Terminal(fmt.Errorf("provider %s does not support callback transcription", p))
	}
	return ca, nil
}

func (c *adapterClient) Submit(ctx context.Context, sel provider.Selected, audioURL, callbackURL string, params provider.ListenParams) (string, error) {
	ca, err := c.callbackAdapter(sel.Provider)
	if err != nil {
		return "", err
	}
	return ca.SubmitCallback(ctx, c.httpClient, c.apiBase(sel.Provider), sel.APIKey, audioURL, callbackURL, params)
}

func (c *adapterClient) Process(ctx context.Context, sel provider.Selected, payload provider.CallbackPayload) (*provider.BatchResult, error) {
	ca, err := c.callbackAdapter(sel.Provider)
	if err != nil {
		return nil, err
	}
	return ca.ProcessCallback(ctx, c.httpClient, c.apiBase(sel.Provider), sel.APIKey, payload)
}

type Options struct {
	PublicBaseURL string
	CallbackWait  time.Duration // bounded wait for the provider callback
	PollInterval  time.Duration
	HTTPClient    *http.Client
	APIBases      map[provider.Provider]string
	Jobs          JobRecorder // optional
	SignedURLTTL  time.Duration
}

type Engine struct {
	store    durable.Store
	registry *provider.Registry
	audio    AudioStore
	jobs     JobRecorder
	calls    callbackClient

	publicBaseURL string
	callbackWait  time.Duration
	pollInterval  time.Duration
	signedURLTTL  time.Duration
}

func NewEngine(store durable.Store, registry *provider.Registry, audio AudioStore, opts Options) *Engine {
	if opts.CallbackWait <= 0 {
		opts.CallbackWait = 10 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Engine{
		store:         store,
		registry:      registry,
		audio:         audio,
		jobs:          opts.Jobs,
		calls:         &adapterClient{httpClient: opts.HTTPClient, apiBases: opts.APIBases},
		publicBaseURL: strings.TrimSuffix(opts.PublicBaseURL, "/"),
		callbackWait:  opts.CallbackWait,
		pollInterval:  opts.PollInterval,
		signedURLTTL:  opts.SignedURLTTL,
	}
}

func statusKey(key string) string   { return "stt:" + key + ":status" }
func callbackKey(key string) string { return "stt:" + key + ":callback" }
func resultKey(key string) string   { return "stt:" + key + ":result" }

// Begin records a fresh pending workflow. Called at submission time so a
// status query between enqueue and first execution still resolves.
func (e *Engine) Begin(ctx context.Context, job Job) error {
	rec := statusRecord{
		Status:    StatusPending,
		Provider:  job.Provider,
		UpdatedMS: time.Now().UnixMilli(),
	}
	ok, err := e.store.SetIfAbsent(ctx, statusKey(job.Key), rec)
	if err != nil {
		return fmt.Errorf("record workflow %s: %w", job.Key, err)
	}
	if !ok {
		return fmt.Errorf("workflow %s already exists", job.Key)
	}
	return nil
}

func (e *Engine) setStatus(ctx context.Context, key string, mutate func(*statusRecord)) error {
	var rec statusRecord
	if _, err := e.store.Get(ctx, statusKey(key), &rec); err != nil {
		return err
	}
	mutate(&rec)
	rec.UpdatedMS = time.Now().UnixMilli()
	if err := e.store.Set(ctx, statusKey(key), rec); err != nil {
		return err
	}
	if e.jobs != nil {
		if err := e.jobs.UpdateStatus(ctx, key, string(rec.Status), rec.Error); err != nil {
			slog.Warn("job record update failed", "key", key, "error", err)
		}
	}
	return nil
}

// Run executes the workflow for job. Transient errors are returned as-is
// for the queue to retry; terminal ones mark the workflow failed first.
func (e *Engine) Run(ctx context.Context, job Job) error {
	var rec statusRecord
	found, err := e.store.Get(ctx, statusKey(job.Key), &rec)
	if err != nil {
		return fmt.Errorf("read workflow %s: %w", job.Key, err)
	}
	if found && (rec.Status == StatusDone || rec.Status == StatusError) {
		// Replay of a settled workflow is a no-op.
		return nil
	}

	if err := e.run(ctx, job); err != nil {
		if IsTerminal(err) {
			e.fail(ctx, job, err)
		}
		return err
	}
	return nil
}

func (e *Engine) run(ctx context.Context, job Job) error {
	sel, err := e.resolveProvider(job)
	if err != nil {
		return err
	}

	if err := e.setStatus(ctx, job.Key, func(r *statusRecord) {
		r.Status = StatusRunning
		r.Provider = sel.Provider.String()
		r.Step = "signed-url"
	}); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	params := provider.ListenParams{
		Model:      job.Model,
		Languages:  job.Languages,
		SampleRate: 16000,
		Channels:   1,
	}

	rawURL, err := durable.RunOnce(ctx, e.store, job.Key, "signed-url", func(ctx context.Context) (any, error) {
		return e.audio.SignedURL(ctx, job.FileID, e.signedURLTTL)
	})
	if err != nil {
		return fmt.Errorf("create signed url: %w", err)
	}
	var audioURL string
	if err := json.Unmarshal(rawURL, &audioURL); err != nil {
		return fmt.Errorf("decode signed url: %w", err)
	}

	callbackURL := e.publicBaseURL + "/webhooks/stt/" + job.Key
	rawID, err := durable.RunOnce(ctx, e.store, job.Key, "submit", func(ctx context.Context) (any, error) {
		return e.calls.Submit(ctx, sel, audioURL, callbackURL, params)
	})
	if err != nil {
		return fmt.Errorf("submit transcription: %w", err)
	}
	var requestID string
	if err := json.Unmarshal(rawID, &requestID); err != nil {
		return fmt.Errorf("decode request id: %w", err)
	}

	if err := e.setStatus(ctx, job.Key, func(r *statusRecord) {
		r.RequestID = requestID
		r.Step = "await-callback"
	}); err != nil {
		return fmt.Errorf("record submission: %w", err)
	}

	body, err := e.awaitCallback(ctx, job.Key)
	if err != nil {
		return err
	}

	payload, err := provider.ParseCallbackPayload(body)
	if err != nil {
		return Terminal(err)
	}

	result, procErr := e.calls.Process(ctx, sel, payload)
	e.cleanup(ctx, job)
	if procErr != nil {
		// A provider-reported failure is final; the audio is already gone.
		return Terminal(procErr)
	}

	if err := e.store.Set(ctx, resultKey(job.Key), result); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	if err := e.setStatus(ctx, job.Key, func(r *statusRecord) {
		r.Status = StatusDone
		r.Step = ""
		r.Error = ""
	}); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

func (e *Engine) resolveProvider(job Job) (provider.Selected, error) {
	p, err := provider.Parse(job.Provider)
	if err != nil {
		return provider.Selected{}, Terminal(err)
	}
	if !e.registry.Configured(p) {
		return provider.Selected{}, Terminal(fmt.Errorf("provider %s not configured", p))
	}
	return provider.Selected{Provider: p, APIKey: e.registry.APIKey(p), WSBase: e.registry.WSBase(p)}, nil
}

// awaitCallback waits for the webhook to resolve the callback promise,
// bounded by the configured wait. A silent provider is a terminal failure:
// the submission happened, so retrying would double-transcribe.
func (e *Engine) awaitCallback(ctx context.Context, key string) ([]byte, error) {
	deadline := time.Now().Add(e.callbackWait)
	for {
		var body json.RawMessage
		found, err := e.store.Get(ctx, callbackKey(key), &body)
		if err != nil {
			return nil, fmt.Errorf("read callback: %w", err)
		}
		if found {
			return body, nil
		}
		if time.Now().After(deadline) {
			return nil, Terminal(fmt.Errorf("timed out waiting for transcription callback after %s", e.callbackWait))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}

func (e *Engine) fail(ctx context.Context, job Job, cause error) {
	e.cleanup(ctx, job)
	if err := e.setStatus(ctx, job.Key, func(r *statusRecord) {
		r.Status = StatusError
		r.Error = cause.Error()
		r.Step = ""
	}); err != nil {
		slog.Error("failed to mark workflow errored", "key", job.Key, "error", err)
	}
}

// cleanup deletes the uploaded audio. Best-effort and memoized: it runs at
// most once per workflow, and failures only log.
func (e *Engine) cleanup(ctx context.Context, job Job) {
	_, err := durable.RunOnce(ctx, e.store, job.Key, "cleanup", func(ctx context.Context) (any, error) {
		if err := e.audio.Delete(ctx, job.FileID); err != nil {
			slog.Warn("audio cleanup failed", "key", job.Key, "file_id", job.FileID, "error", err)
		}
		return true, nil
	})
	if err != nil {
		slog.Warn("cleanup step failed", "key", job.Key, "error", err)
	}
}

// ResolveCallback stores the provider's webhook body as the workflow's
// callback promise. Duplicate deliveries are no-ops; unknown keys fail.
func (e *Engine) ResolveCallback(ctx context.Context, key string, body []byte) error {
	var rec statusRecord
	found, err := e.store.Get(ctx, statusKey(key), &rec)
	if err != nil {
		return fmt.Errorf("read workflow %s: %w", key, err)
	}
	if !found {
		return ErrNotFound
	}

	ok, err := e.store.SetIfAbsent(ctx, callbackKey(key), json.RawMessage(body))
	if err != nil {
		return fmt.Errorf("store callback for %s: %w", key, err)
	}
	if !ok {
		slog.Info("duplicate callback ignored", "key", key)
	}
	return nil
}

// Status reads the workflow state, attaching the result once done.
func (e *Engine) Status(ctx context.Context, key string) (*StatusResponse, error) {
	var rec statusRecord
	found, err := e.store.Get(ctx, statusKey(key), &rec)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", key, err)
	}
	if !found {
		return nil, ErrNotFound
	}

	resp := &StatusResponse{
		ID:        key,
		Status:    rec.Status,
		Provider:  rec.Provider,
		RequestID: rec.RequestID,
		Step:      rec.Step,
		Error:     rec.Error,
	}
	if rec.Status == StatusDone {
		var result json.RawMessage
		if found, err := e.store.Get(ctx, resultKey(key), &result); err == nil && found {
			resp.Result = result
		}
	}
	return resp, nil
}
