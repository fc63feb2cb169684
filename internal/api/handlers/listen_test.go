package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxgate/voxgate/internal/analytics"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/provider"
)

func newListenHandler(reg *provider.Registry) *ListenHandler {
	return NewListenHandler(reg, 2*time.Second, analytics.Noop{}, health.NewTracker(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func listenRegistry(overrides map[provider.Provider]string) *provider.Registry {
	r := provider.NewRegistry(map[provider.Provider]string{provider.Deepgram: "dg-key"}, overrides)
	r.SetDefault(provider.Deepgram)
	return r
}

func TestListenUnknownProviderIsBadRequest(t *testing.T) {
	h := newListenHandler(listenRegistry(nil))
	req := httptest.NewRequest(http.MethodGet, "/listen?provider=whisperx", nil)
	w := httptest.NewRecorder()
	h.Listen(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bad_request") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListenUnconfiguredProvider(t *testing.T) {
	h := newListenHandler(listenRegistry(nil))
	req := httptest.NewRequest(http.MethodGet, "/listen?provider=soniox", nil)
	w := httptest.NewRecorder()
	h.Listen(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "missing_config") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListenDialFailureIsBadGateway(t *testing.T) {
	// Nothing listens on the override address, so the upstream dial fails
	// before the client upgrade and a plain HTTP error goes out.
	h := newListenHandler(listenRegistry(map[provider.Provider]string{
		provider.Deepgram: "ws://127.0.0.1:1/v1/listen",
	}))
	req := httptest.NewRequest(http.MethodGet, "/listen?provider=deepgram", nil)
	w := httptest.NewRecorder()
	h.Listen(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body %s", w.Code, w.Body.String())
	}
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func TestListenRelaysNormalizedTranscripts(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upstream upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Heartbeat first: must be dropped, not relayed.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"Results","is_final":true,"start":1.0,"duration":0.5,`+
				`"channel":{"alternatives":[{"transcript":"hello world"}]}}`))

		// Hold the connection until the client walks away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer upstream.Close()

	wsBase := "ws" + strings.TrimPrefix(upstream.URL, "http")
	h := newListenHandler(listenRegistry(map[provider.Provider]string{provider.Deepgram: wsBase}))

	gateway := httptest.NewServer(http.HandlerFunc(h.Listen))
	defer gateway.Close()

	dialURL := "ws" + strings.TrimPrefix(gateway.URL, "http") + "?provider=deepgram"
	client, _, err := websocket.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, frame, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read relayed frame: %v", err)
	}

	var ev provider.StreamResponse
	if err := json.Unmarshal(frame, &ev); err != nil {
		t.Fatalf("decode frame %q: %v", frame, err)
	}
	if ev.Type != "transcript" || ev.Transcript != "hello world" || !ev.IsFinal {
		t.Errorf("event = %+v", ev)
	}
	if ev.Start != 1.0 || ev.End != 1.5 {
		t.Errorf("timing = [%f, %f], want [1.0, 1.5]", ev.Start, ev.End)
	}
	if gotAuth != "Token dg-key" {
		t.Errorf("upstream auth = %q, want Token dg-key", gotAuth)
	}
}

func TestListenForwardsPassThroughParams(t *testing.T) {
	gotQuery := make(chan url.Values, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery <- r.URL.Query()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer upstream.Close()

	wsBase := "ws" + strings.TrimPrefix(upstream.URL, "http")
	h := newListenHandler(listenRegistry(map[provider.Provider]string{provider.Deepgram: wsBase}))

	gateway := httptest.NewServer(http.HandlerFunc(h.Listen))
	defer gateway.Close()

	dialURL := "ws" + strings.TrimPrefix(gateway.URL, "http") +
		"?provider=deepgram&smart_format=true&tag=a&tag=b"
	client, _, err := websocket.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer client.Close()

	select {
	case q := <-gotQuery:
		if got := q["smart_format"]; len(got) != 1 || got[0] != "true" {
			t.Errorf("smart_format = %v, want [true]", got)
		}
		if got := q["tag"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
			t.Errorf("tag = %v, want [a b]", got)
		}
		if len(q["provider"]) != 0 {
			t.Errorf("provider leaked upstream: %v", q["provider"])
		}
		if got := q.Get("encoding"); got != "linear16" {
			t.Errorf("encoding = %q, want the adapter default kept", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("upstream never saw the dial")
	}
}

func TestListenWrapsAudioForJSONOnlyUpstream(t *testing.T) {
	frames := make(chan string, 4)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				frames <- "BINARY"
				continue
			}
			frames <- string(data)
		}
	}))
	defer upstream.Close()

	wsBase := "ws" + strings.TrimPrefix(upstream.URL, "http")
	reg := provider.NewRegistry(
		map[provider.Provider]string{provider.Mistral: "mi-key"},
		map[provider.Provider]string{provider.Mistral: wsBase})
	h := newListenHandler(reg)

	gateway := httptest.NewServer(http.HandlerFunc(h.Listen))
	defer gateway.Close()

	dialURL := "ws" + strings.TrimPrefix(gateway.URL, "http") + "?provider=mistral"
	client, _, err := websocket.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer client.Close()

	audio := []byte{0x10, 0x20, 0x30}
	if err := client.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	read := func() string {
		select {
		case f := <-frames:
			return f
		case <-time.After(3 * time.Second):
			t.Fatal("upstream frame never arrived")
			return ""
		}
	}

	// Session config first, then the wrapped audio. No binary frame may
	// ever reach this upstream.
	var sessionMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(read()), &sessionMsg); err != nil || sessionMsg.Type != "session.update" {
		t.Fatalf("first frame type = %q (%v), want session.update", sessionMsg.Type, err)
	}

	var appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	if err := json.Unmarshal([]byte(read()), &appendMsg); err != nil {
		t.Fatalf("decode second frame: %v", err)
	}
	if appendMsg.Type != "input_audio.append" {
		t.Errorf("type = %q, want input_audio.append", appendMsg.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(appendMsg.Audio)
	if err != nil || !bytes.Equal(decoded, audio) {
		t.Errorf("audio = %v (err %v), want %v", decoded, err, audio)
	}
}

func TestListenRawModePassesFramesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"abc"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer upstream.Close()

	wsBase := "ws" + strings.TrimPrefix(upstream.URL, "http")
	h := newListenHandler(listenRegistry(map[provider.Provider]string{provider.Deepgram: wsBase}))

	gateway := httptest.NewServer(http.HandlerFunc(h.Listen))
	defer gateway.Close()

	dialURL := "ws" + strings.TrimPrefix(gateway.URL, "http") + "?provider=deepgram&raw=true"
	client, _, err := websocket.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, frame, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !strings.Contains(string(frame), `"request_id":"abc"`) {
		t.Errorf("frame = %s, want untouched provider payload", frame)
	}
}
