// Package provider holds the closed set of speech-to-text providers the
// gateway can relay to, their connection metadata, and the per-provider
// adapters that translate between provider wire formats and the gateway's
// normalized one.
package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Provider int

const (
	Deepgram Provider = iota
	Soniox
	AssemblyAI
	ElevenLabs
	Gladia
	Mistral
	Argmax
)

// AllProviders is the canonical iteration order. Adding a provider here
// without extending every switch in this package is a compile- or
// conformance-test-time failure, not a runtime surprise.
var AllProviders = []Provider{Deepgram, Soniox, AssemblyAI, ElevenLabs, Gladia, Mistral, Argmax}

func (p Provider) String() string {
	switch p {
	case Deepgram:
		return "deepgram"
	case Soniox:
		return "soniox"
	case AssemblyAI:
		return "assemblyai"
	case ElevenLabs:
		return "elevenlabs"
	case Gladia:
		return "gladia"
	case Mistral:
		return "mistral"
	case Argmax:
		return "argmax"
	default:
		return fmt.Sprintf("provider(%d)", int(p))
	}
}

// Parse resolves a client-supplied provider name. Unknown names fail closed.
func Parse(name string) (Provider, error) {
	for _, p := range AllProviders {
		if p.String() == strings.ToLower(strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown provider %q", name)
}

type AuthKind int

const (
	// AuthHeader sends the API key in an HTTP header on the upgrade request.
	AuthHeader AuthKind = iota
	// AuthFirstMessage injects the API key into the first JSON text frame.
	AuthFirstMessage
	// AuthSessionInit exchanges the key for a one-time signed WS URL via an
	// HTTP session-init call; the WS dial itself is unauthenticated.
	AuthSessionInit
)

type Auth struct {
	Kind AuthKind

	// HeaderName and Prefix apply to AuthHeader and AuthSessionInit.
	HeaderName string
	Prefix     string

	// Field is the JSON field the key is injected into for AuthFirstMessage.
	Field string
}

func (p Provider) Auth() Auth {
	switch p {
	case Deepgram:
		return Auth{Kind: AuthHeader, HeaderName: "Authorization", Prefix: "Token "}
	case Soniox:
		return Auth{Kind: AuthFirstMessage, Field: "api_key"}
	case AssemblyAI:
		return Auth{Kind: AuthHeader, HeaderName: "Authorization"}
	case ElevenLabs:
		return Auth{Kind: AuthHeader, HeaderName: "xi-api-key"}
	case Gladia:
		return Auth{Kind: AuthSessionInit, HeaderName: "x-gladia-key"}
	case Mistral:
		return Auth{Kind: AuthHeader, HeaderName: "Authorization", Prefix: "Bearer "}
	case Argmax:
		return Auth{Kind: AuthHeader, HeaderName: "Authorization", Prefix: "Bearer "}
	default:
		panic("unreachable")
	}
}

// Header returns the upgrade-request auth header for the given key, or
// ok=false for schemes that do not authenticate via headers.
func (a Auth) Header(apiKey string) (name, value string, ok bool) {
	if a.Kind != AuthHeader || apiKey == "" {
		return "", "", false
	}
	return a.HeaderName, a.Prefix + apiKey, true
}

// TransformFirstMessage injects the API key into a client's first text frame
// for AuthFirstMessage providers. Non-JSON frames pass through untouched.
func (a Auth) TransformFirstMessage(payload string, apiKey string) string {
	if a.Kind != AuthFirstMessage || apiKey == "" {
		return payload
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return payload
	}
	m[a.Field] = apiKey
	out, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return string(out)
}

// DefaultWSURL is the provider's real-time endpoint before any query params.
func (p Provider) DefaultWSURL() string {
	switch p {
	case Deepgram:
		return "wss://api.deepgram.com/v1/listen"
	case Soniox:
		return "wss://stt-rt.soniox.com/transcribe-websocket"
	case AssemblyAI:
		return "wss://streaming.assemblyai.com/v3/ws"
	case ElevenLabs:
		return "wss://api.elevenlabs.io/v1/speech-to-text/realtime"
	case Gladia:
		// Session init returns the actual signed WS URL.
		return "https://api.gladia.io/v2/live"
	case Mistral:
		return "wss://api.mistral.ai/v1/audio/transcriptions/realtime"
	case Argmax:
		return "ws://localhost:50060/v1/listen"
	default:
		panic("unreachable")
	}
}

// DefaultAPIBase is the provider's REST base for batch and callback flows.
func (p Provider) DefaultAPIBase() string {
	switch p {
	case Deepgram:
		return "https://api.deepgram.com/v1"
	case Soniox:
		return "https://api.soniox.com"
	case AssemblyAI:
		return "https://api.assemblyai.com/v2"
	case ElevenLabs:
		return "https://api.elevenlabs.io/v1"
	case Gladia:
		return "https://api.gladia.io/v2"
	case Mistral:
		return "https://api.mistral.ai/v1"
	case Argmax:
		return "http://localhost:50060/v1"
	default:
		panic("unreachable")
	}
}

func (p Provider) DefaultLiveModel() string {
	switch p {
	case Deepgram:
		return "nova-3"
	case Soniox:
		return "stt-rt-preview"
	case AssemblyAI:
		return "universal-streaming"
	case ElevenLabs:
		return "scribe_v2_realtime"
	case Gladia:
		return "solaria-1"
	case Mistral:
		return "voxtral-mini-transcribe-realtime"
	case Argmax:
		return "parakeet-v3"
	default:
		panic("unreachable")
	}
}

func (p Provider) DefaultBatchModel() string {
	switch p {
	case Deepgram:
		return "nova-3"
	case Soniox:
		return "stt-async-preview"
	case AssemblyAI:
		return "universal"
	case ElevenLabs:
		return "scribe_v1"
	case Gladia:
		return "solaria-1"
	case Mistral:
		return "voxtral-mini-transcribe"
	case Argmax:
		return "parakeet-v3"
	default:
		panic("unreachable")
	}
}

// ControlMessageTypes lists the JSON "type" values of client text frames
// that must be forwarded to the upstream ahead of queued audio frames.
func (p Provider) ControlMessageTypes() []string {
	switch p {
	case Deepgram, Argmax:
		return []string{"KeepAlive", "Finalize", "CloseStream"}
	case Soniox:
		return []string{"keepalive", "finalize"}
	case AssemblyAI:
		return []string{"Terminate", "ForceEndpoint"}
	case ElevenLabs:
		return []string{"commit", "flush"}
	case Gladia:
		return []string{"stop_recording"}
	case Mistral:
		return []string{"input_audio.end"}
	default:
		panic("unreachable")
	}
}
