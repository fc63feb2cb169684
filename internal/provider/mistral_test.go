package provider

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestMistralTransformClientFrameWrapsBinary(t *testing.T) {
	audio := []byte{0x00, 0x01, 0xFE, 0xFF}

	out, text, keep := MistralAdapter{}.TransformClientFrame(audio, false)
	if !keep || !text {
		t.Fatalf("frame = (keep=%v, text=%v), want kept text frame", keep, text)
	}

	var msg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	if err := json.Unmarshal(out, &msg); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if msg.Type != "input_audio.append" {
		t.Errorf("type = %q, want input_audio.append", msg.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		t.Fatalf("audio is not base64: %v", err)
	}
	if string(decoded) != string(audio) {
		t.Errorf("decoded audio = %v, want %v", decoded, audio)
	}
}

func TestMistralTransformClientFramePassesText(t *testing.T) {
	in := []byte(`{"type":"input_audio.end"}`)
	out, text, keep := MistralAdapter{}.TransformClientFrame(in, true)
	if !keep || !text || string(out) != string(in) {
		t.Errorf("text frame = (%q, text=%v, keep=%v), want untouched", out, text, keep)
	}
}

func TestMistralTransformClientFrameDropsEmptyBinary(t *testing.T) {
	if _, _, keep := (MistralAdapter{}).TransformClientFrame(nil, false); keep {
		t.Error("empty binary frame should be dropped")
	}
}

func TestMistralParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCount int
		wantFinal bool
		wantText  string
	}{
		{
			name:      "delta",
			raw:       `{"type":"transcription.text.delta","text":"hel","audio":{"start":0.1,"end":0.4}}`,
			wantCount: 1,
			wantText:  "hel",
		},
		{
			name:      "done_is_final",
			raw:       `{"type":"transcription.text.done","text":"hello","audio":{"start":0.1,"end":0.9}}`,
			wantCount: 1,
			wantFinal: true,
			wantText:  "hello",
		},
		{name: "session_event_dropped", raw: `{"type":"session.created"}`},
		{name: "empty_delta_dropped", raw: `{"type":"transcription.text.delta","text":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MistralAdapter{}.ParseResponse([]byte(tt.raw))
			if len(got) != tt.wantCount {
				t.Fatalf("ParseResponse returned %d events, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount == 0 {
				return
			}
			if got[0].Transcript != tt.wantText || got[0].IsFinal != tt.wantFinal {
				t.Errorf("event = %+v", got[0])
			}
		})
	}
}
