// Package relay implements the WebSocket relay core: one client connection
// bridged to one upstream provider connection, with frame ordering,
// first-message auth injection, and response normalization hooks.
package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultConnectTimeout = 7 * time.Second
	writeWait             = 5 * time.Second
)

// Builder assembles a single-use Proxy.
type Builder struct {
	upstreamURL       string
	header            http.Header
	connectTimeout    time.Duration
	controlTypes      []string
	transformFirst    func(string) string
	transformClient   func(data []byte, text bool) ([]byte, bool, bool)
	initialMessage    []byte
	transformResponse func([]byte) ([]byte, bool)
	onClose           func(time.Duration)
}

func NewBuilder() *Builder {
	return &Builder{
		header:         http.Header{},
		connectTimeout: defaultConnectTimeout,
	}
}

func (b *Builder) UpstreamURL(u string) *Builder {
	b.upstreamURL = u
	return b
}

func (b *Builder) Header(name, value string) *Builder {
	b.header.Set(name, value)
	return b
}

func (b *Builder) ConnectTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.connectTimeout = d
	}
	return b
}

// ControlMessageTypes declares the JSON "type" values of client text frames
// that must reach the upstream ahead of any queued data frames.
func (b *Builder) ControlMessageTypes(types []string) *Builder {
	b.controlTypes = types
	return b
}

// TransformFirstMessage rewrites the client's first text frame before it is
// forwarded, used to inject credentials for first-message auth providers.
func (b *Builder) TransformFirstMessage(fn func(string) string) *Builder {
	b.transformFirst = fn
	return b
}

// ClientTransformer rewrites client frames before they are forwarded
// upstream. It receives the payload and whether the frame is text, and
// returns the outgoing payload, the outgoing frame kind, and keep=false to
// drop the frame. Providers that only accept JSON events use this to wrap
// binary audio.
func (b *Builder) ClientTransformer(fn func(data []byte, text bool) ([]byte, bool, bool)) *Builder {
	b.transformClient = fn
	return b
}

// InitialMessage is sent to the upstream immediately after the dial,
// before any client frames are relayed.
func (b *Builder) InitialMessage(msg []byte) *Builder {
	b.initialMessage = msg
	return b
}

// ResponseTransformer rewrites upstream text frames before they reach the
// client. Returning keep=false drops the frame.
func (b *Builder) ResponseTransformer(fn func([]byte) ([]byte, bool)) *Builder {
	b.transformResponse = fn
	return b
}

// OnClose fires exactly once after both pumps exit, with the session
// duration measured from the upstream dial.
func (b *Builder) OnClose(fn func(time.Duration)) *Builder {
	b.onClose = fn
	return b
}

func (b *Builder) Build() (*Proxy, error) {
	u, err := url.Parse(b.upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url %q: %w", b.upstreamURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("upstream url %q: scheme must be ws or wss", b.upstreamURL)
	}

	controlTypes := make(map[string]bool, len(b.controlTypes))
	for _, t := range b.controlTypes {
		controlTypes[t] = true
	}

	return &Proxy{
		upstreamURL:       u,
		header:            b.header,
		connectTimeout:    b.connectTimeout,
		controlTypes:      controlTypes,
		transformFirst:    b.transformFirst,
		transformClient:   b.transformClient,
		initialMessage:    b.initialMessage,
		transformResponse: b.transformResponse,
		onClose:           b.onClose,
	}, nil
}

// Proxy bridges one client WebSocket to one upstream connection. Instances
// are single-use: Handle must be called at most once.
type Proxy struct {
	upstreamURL       *url.URL
	header            http.Header
	connectTimeout    time.Duration
	controlTypes      map[string]bool
	transformFirst    func(string) string
	transformClient   func(data []byte, text bool) ([]byte, bool, bool)
	initialMessage    []byte
	transformResponse func([]byte) ([]byte, bool)
	onClose           func(time.Duration)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 32 << 10,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handle dials the upstream, upgrades the client, and relays until either
// side closes. A dial failure is returned before the client upgrade so the
// caller can still write a plain HTTP error response.
func (p *Proxy) Handle(w http.ResponseWriter, r *http.Request) error {
	dialer := &websocket.Dialer{HandshakeTimeout: p.connectTimeout}
	upstream, resp, err := dialer.DialContext(r.Context(), p.upstreamURL.String(), p.header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return fmt.Errorf("dial upstream %s (status %d): %w", p.upstreamURL.Host, status, err)
	}

	if p.initialMessage != nil {
		if err := upstream.WriteMessage(websocket.TextMessage, p.initialMessage); err != nil {
			upstream.Close()
			return fmt.Errorf("send initial message: %w", err)
		}
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		upstream.Close()
		// Upgrade already wrote its own error response.
		return nil
	}

	p.run(client, upstream)
	return nil
}

type closeEvent struct {
	code   int
	reason string
}

func (p *Proxy) run(client, upstream *websocket.Conn) {
	start := time.Now()

	var once sync.Once
	done := make(chan closeEvent, 1)
	shutdown := func(code int, reason string) {
		once.Do(func() { done <- closeEvent{code, reason} })
	}

	pending := newPendingState(p.controlTypes)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		p.readClient(client, pending, shutdown)
	}()
	go func() {
		defer wg.Done()
		p.writeUpstream(upstream, pending, shutdown)
	}()
	go func() {
		defer wg.Done()
		p.pumpUpstream(upstream, client, shutdown)
	}()

	ev := <-done
	pending.close()
	code := normalizeCloseCode(ev.code)
	msg := websocket.FormatCloseMessage(code, ev.reason)
	deadline := time.Now().Add(writeWait)
	if err := client.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		slog.Debug("client close frame failed", "error", err)
	}
	if err := upstream.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		slog.Debug("upstream close frame failed", "error", err)
	}
	client.Close()
	upstream.Close()
	wg.Wait()

	if p.onClose != nil {
		p.onClose(time.Since(start))
	}
}

// readClient reads client frames, applies the first-message and per-frame
// transforms, and buffers them for the upstream writer.
func (p *Proxy) readClient(src *websocket.Conn, pending *pendingState, shutdown func(int, string)) {
	first := true

	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			code, reason := closeCodeFromError(err)
			shutdown(code, reason)
			return
		}

		text := msgType == websocket.TextMessage
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		if text && first && p.transformFirst != nil {
			data = []byte(p.transformFirst(string(data)))
		}
		first = false

		if p.transformClient != nil {
			out, outText, keep := p.transformClient(data, text)
			if !keep {
				continue
			}
			data, text = out, outText
		}

		if err := pending.enqueue(queuedFrame{data: data, text: text}); err != nil {
			if err == errQueueClosed {
				return
			}
			shutdown(websocket.CloseInternalServerErr, err.Error())
			return
		}
	}
}

// writeUpstream drains buffered frames to the upstream, control frames
// first. It exits when the buffer closes or a write fails.
func (p *Proxy) writeUpstream(dst *websocket.Conn, pending *pendingState, shutdown func(int, string)) {
	for {
		frame, ok := pending.next()
		if !ok {
			return
		}
		frameType := websocket.BinaryMessage
		if frame.text {
			frameType = websocket.TextMessage
		}
		if err := dst.WriteMessage(frameType, frame.data); err != nil {
			shutdown(websocket.CloseInternalServerErr, "upstream write failed")
			return
		}
	}
}

// pumpUpstream reads upstream frames and forwards them to the client,
// normalizing text frames through the response transformer.
func (p *Proxy) pumpUpstream(src, dst *websocket.Conn, shutdown func(int, string)) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			code, reason := closeCodeFromError(err)
			shutdown(code, reason)
			return
		}

		if msgType == websocket.TextMessage && p.transformResponse != nil {
			out, keep := p.transformResponse(data)
			if !keep {
				continue
			}
			data = out
		}

		if err := dst.WriteMessage(msgType, data); err != nil {
			shutdown(websocket.CloseInternalServerErr, "client write failed")
			return
		}
	}
}

func closeCodeFromError(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, "connection lost"
}

// normalizeCloseCode maps codes that are illegal to send in a close frame
// (reserved or private-range) to 1011 internal error.
func normalizeCloseCode(code int) int {
	switch {
	case code == websocket.CloseNoStatusReceived, // 1005
		code == websocket.CloseAbnormalClosure, // 1006
		code == websocket.CloseTLSHandshake,    // 1015
		code >= 5000:
		return websocket.CloseInternalServerErr
	default:
		return code
	}
}
