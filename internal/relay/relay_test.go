package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// echoUpstream accepts one WS connection and echoes every frame back.
func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// proxyServer serves the given proxy builder as an HTTP endpoint and
// returns a connected client.
func proxyClient(t *testing.T, b *Builder) *websocket.Conn {
	t.Helper()
	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := p.Handle(w, r); err != nil {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRelayRoundTrip(t *testing.T) {
	upstream := echoUpstream(t)
	client := proxyClient(t, NewBuilder().UpstreamURL(wsURL(upstream)))

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if mt != websocket.TextMessage || string(data) != `{"hello":"world"}` {
		t.Errorf("echo = (%d, %q)", mt, data)
	}

	audio := []byte{0x01, 0x02, 0x03, 0x04}
	if err := client.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	mt, data, err = client.ReadMessage()
	if err != nil {
		t.Fatalf("read binary echo: %v", err)
	}
	if mt != websocket.BinaryMessage || len(data) != 4 {
		t.Errorf("binary echo = (%d, %v)", mt, data)
	}
}

func TestTransformFirstMessageOnlyFirst(t *testing.T) {
	upstream := echoUpstream(t)
	client := proxyClient(t, NewBuilder().
		UpstreamURL(wsURL(upstream)).
		TransformFirstMessage(func(s string) string { return s + "+auth" }))

	client.SetReadDeadline(time.Now().Add(5 * time.Second))

	for i, want := range []string{"first+auth", "second"} {
		msg := []string{"first", "second"}[i]
		if err := client.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write %q: %v", msg, err)
		}
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read echo of %q: %v", msg, err)
		}
		if string(data) != want {
			t.Errorf("echo = %q, want %q", data, want)
		}
	}
}

func TestInitialMessageSentBeforeClientFrames(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := proxyClient(t, NewBuilder().
		UpstreamURL(wsURL(srv)).
		InitialMessage([]byte(`{"api_key":"k"}`)))

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-received:
		if got != `{"api_key":"k"}` {
			t.Errorf("first upstream frame = %q, want initial message", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never received the initial message")
	}
}

func TestResponseTransformerRewritesAndDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("heartbeat"))
		conn.WriteMessage(websocket.TextMessage, []byte("payload"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := proxyClient(t, NewBuilder().
		UpstreamURL(wsURL(srv)).
		ResponseTransformer(func(data []byte) ([]byte, bool) {
			if string(data) == "heartbeat" {
				return nil, false
			}
			return []byte("normalized:" + string(data)), true
		}))

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "normalized:payload" {
		t.Errorf("frame = %q, want heartbeat dropped and payload rewritten", data)
	}
}

func TestClientTransformerWrapsBinaryFrames(t *testing.T) {
	upstream := echoUpstream(t)
	client := proxyClient(t, NewBuilder().
		UpstreamURL(wsURL(upstream)).
		ClientTransformer(func(data []byte, text bool) ([]byte, bool, bool) {
			if text {
				return data, true, true
			}
			if len(data) == 0 {
				return nil, false, false
			}
			return []byte(`{"audio":"` + string(data) + `"}`), true, true
		}))

	client.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := client.WriteMessage(websocket.BinaryMessage, []byte("pcm")); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	mt, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if mt != websocket.TextMessage || string(data) != `{"audio":"pcm"}` {
		t.Errorf("upstream saw (%d, %q), want wrapped text frame", mt, data)
	}

	// Dropped frames never reach the upstream; the next frame still does.
	if err := client.WriteMessage(websocket.BinaryMessage, nil); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("ctrl")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	_, data, err = client.ReadMessage()
	if err != nil {
		t.Fatalf("read after drop: %v", err)
	}
	if string(data) != "ctrl" {
		t.Errorf("frame = %q, want the dropped frame skipped", data)
	}
}

func TestDialFailureBeforeUpgrade(t *testing.T) {
	p, err := NewBuilder().
		UpstreamURL("ws://127.0.0.1:1/listen").
		ConnectTimeout(500 * time.Millisecond).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/listen", nil)
	if err := p.Handle(w, r); err == nil {
		t.Fatal("Handle should fail when the upstream is unreachable")
	}
	if w.Body.Len() != 0 {
		t.Errorf("nothing should be written before the caller maps the error")
	}
}

func TestBuilderRejectsNonWSScheme(t *testing.T) {
	if _, err := NewBuilder().UpstreamURL("https://example.com").Build(); err == nil {
		t.Error("Build should reject http(s) upstream URLs")
	}
	if _, err := NewBuilder().UpstreamURL("").Build(); err == nil {
		t.Error("Build should reject an empty upstream URL")
	}
}

func TestOnCloseFiresOnce(t *testing.T) {
	upstream := echoUpstream(t)

	durations := make(chan time.Duration, 2)
	client := proxyClient(t, NewBuilder().
		UpstreamURL(wsURL(upstream)).
		OnClose(func(d time.Duration) { durations <- d }))

	client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
	client.Close()

	select {
	case d := <-durations:
		if d < 0 {
			t.Errorf("duration = %v", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnClose never fired")
	}

	select {
	case <-durations:
		t.Fatal("OnClose fired more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNormalizeCloseCode(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{websocket.CloseNormalClosure, websocket.CloseNormalClosure},
		{websocket.CloseGoingAway, websocket.CloseGoingAway},
		{1005, 1011},
		{1006, 1011},
		{1015, 1011},
		{5000, 1011},
		{5999, 1011},
		{4000, 4000},
	}
	for _, tt := range tests {
		if got := normalizeCloseCode(tt.in); got != tt.want {
			t.Errorf("normalizeCloseCode(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
