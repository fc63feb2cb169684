package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/internal/analytics"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/httperr"
	"github.com/voxgate/voxgate/internal/provider"
	"github.com/voxgate/voxgate/internal/relay"
)

// ListenHandler terminates client WebSocket sessions and relays them to
// the selected transcription provider.
type ListenHandler struct {
	registry       *provider.Registry
	connectTimeout time.Duration
	httpClient     *http.Client
	reporter       analytics.Reporter
	tracker        *health.Tracker
	logger         *slog.Logger
}

func NewListenHandler(registry *provider.Registry, connectTimeout time.Duration, reporter analytics.Reporter, tracker *health.Tracker, logger *slog.Logger) *ListenHandler {
	return &ListenHandler{
		registry:       registry,
		connectTimeout: connectTimeout,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		reporter:       reporter,
		tracker:        tracker,
		logger:         logger,
	}
}

// Listen handles GET /listen. Provider selection and URL construction run
// before the upgrade, so bad requests still get plain HTTP errors.
func (h *ListenHandler) Listen(w http.ResponseWriter, r *http.Request) {
	qp, err := provider.ParseQuery(r.URL.RawQuery)
	if err != nil {
		httperr.Write(w, httperr.BadRequest("malformed query string"))
		return
	}

	sel, err := h.registry.Select(qp)
	if err != nil {
		httperr.Write(w, selectionError(err))
		return
	}

	adapter := provider.ForProvider(sel.Provider)
	if t, ok := adapter.(interface{ TransformClientParams(*provider.QueryParams) }); ok {
		t.TransformClientParams(qp)
	}
	params := qp.ListenParams()

	upstreamURL, err := h.resolveUpstream(r.Context(), adapter, sel, params, qp)
	if err != nil {
		h.logger.Warn("session setup failed", "provider", sel.Provider.String(), "error", err)
		h.tracker.RecordError(sel.Provider.String())
		httperr.Write(w, httperr.BadGateway("could not reach transcription provider", err))
		return
	}

	auth := sel.Provider.Auth()
	b := relay.NewBuilder().
		UpstreamURL(upstreamURL).
		ConnectTimeout(h.connectTimeout).
		ControlMessageTypes(sel.Provider.ControlMessageTypes())

	if name, value, ok := auth.Header(sel.APIKey); ok {
		b.Header(name, value)
	}

	switch auth.Kind {
	case provider.AuthFirstMessage:
		// The client's own config frame carries everything but the key.
		b.TransformFirstMessage(func(payload string) string {
			return auth.TransformFirstMessage(payload, sel.APIKey)
		})
	default:
		if msg := adapter.InitialMessage(sel.APIKey, params); msg != nil {
			b.InitialMessage(msg)
		}
	}

	if t, ok := adapter.(interface {
		TransformClientFrame([]byte, bool) ([]byte, bool, bool)
	}); ok {
		b.ClientTransformer(t.TransformClientFrame)
	}

	if qp.First("raw") != "true" {
		b.ResponseTransformer(normalizeResponses(adapter))
	}

	providerName := sel.Provider.String()
	b.OnClose(func(d time.Duration) {
		h.tracker.RecordSuccess(providerName)
		h.reporter.ReportStt(context.Background(), analytics.SttEvent{
			Provider:        providerName,
			DurationSeconds: d.Seconds(),
		})
		h.logger.Info("ws session end", "provider", providerName, "duration_ms", d.Milliseconds())
	})

	proxy, err := b.Build()
	if err != nil {
		httperr.Write(w, httperr.Internal(err))
		return
	}

	if err := proxy.Handle(w, r); err != nil {
		h.logger.Warn("upstream dial failed", "provider", providerName, "error", err)
		h.tracker.RecordError(providerName)
		httperr.Write(w, httperr.BadGateway("could not reach transcription provider", err))
	}
}

// resolveUpstream produces the dialable WS URL. Most providers build it
// locally and get the client's pass-through parameters merged on top;
// Gladia requires a session-init exchange first.
func (h *ListenHandler) resolveUpstream(ctx context.Context, adapter provider.Adapter, sel provider.Selected, params provider.ListenParams, qp *provider.QueryParams) (string, error) {
	u, err := adapter.BuildWSURL(sel.WSBase, params)
	if err != nil {
		return "", err
	}
	if sel.Provider.Auth().Kind != provider.AuthSessionInit {
		merged, err := provider.MergeClientQuery(u, qp)
		if err != nil {
			return "", err
		}
		return merged.String(), nil
	}

	g, ok := adapter.(provider.GladiaAdapter)
	if !ok {
		return u.String(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.connectTimeout)
	defer cancel()
	return g.InitSession(ctx, h.httpClient, u.String(), sel.APIKey, params)
}

// normalizeResponses rewrites upstream frames into the gateway's event
// shape. Frames that normalize to nothing (heartbeats, bookkeeping) are
// dropped; multiple events from one frame become newline-delimited JSON.
func normalizeResponses(adapter provider.Adapter) func([]byte) ([]byte, bool) {
	return func(raw []byte) ([]byte, bool) {
		events := adapter.ParseResponse(raw)
		if len(events) == 0 {
			return nil, false
		}
		var buf bytes.Buffer
		for i, ev := range events {
			if i > 0 {
				buf.WriteByte('\n')
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return nil, false
			}
			buf.Write(data)
		}
		return buf.Bytes(), true
	}
}

func selectionError(err error) error {
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		return httperr.BadRequest(err.Error())
	case errors.Is(err, provider.ErrNotConfigured), errors.Is(err, provider.ErrNoProvider):
		return httperr.MissingConfig(err.Error())
	default:
		return httperr.Internal(err)
	}
}
