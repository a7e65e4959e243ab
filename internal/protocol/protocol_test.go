package protocol

import (
	"encoding/json"
	"reflect"
	"slices"
	"testing"

	apperrors "github.com/GriffinCanCode/realtime-relay/internal/errors"
)

func jsonEqual(t *testing.T, got []byte, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("got invalid JSON %s: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("want invalid JSON %s: %v", want, err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("JSON = %s, want %s", got, want)
	}
}

func TestBuildSessionUpdateWireShape(t *testing.T) {
	data, err := json.Marshal(BuildSessionUpdate(DefaultSessionConfig()))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{
		"type": "session.update",
		"session": {
			"modalities": ["text", "audio"],
			"instructions": "You are a helpful AI assistant. Have a natural conversation with the user in English.",
			"voice": "alloy",
			"input_audio_format": "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": {"model": "whisper-1"},
			"turn_detection": null
		}
	}`
	jsonEqual(t, data, want)
}

func TestBuildSessionUpdateDoesNotAlias(t *testing.T) {
	cfg := DefaultSessionConfig()
	ev := BuildSessionUpdate(cfg)

	cfg.Modalities[0] = "audio"
	cfg.InputAudioTranscription.Model = "other"

	if got := ev.Session.Modalities; !slices.Equal(got, []string{"text", "audio"}) {
		t.Errorf("Modalities = %v, want [text audio]", got)
	}
	if got := ev.Session.InputAudioTranscription.Model; got != "whisper-1" {
		t.Errorf("transcription model = %q, want %q", got, "whisper-1")
	}
}

func TestBuildSessionUpdateWithTurnDetection(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.TurnDetection = &TurnDetection{Type: "server_vad", SilenceDurationMs: 500}

	data, err := json.Marshal(BuildSessionUpdate(cfg))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded struct {
		Session struct {
			TurnDetection map[string]any `json:"turn_detection"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	td := decoded.Session.TurnDetection
	if td["type"] != "server_vad" {
		t.Errorf("turn_detection.type = %v, want server_vad", td["type"])
	}
	if td["silence_duration_ms"] != float64(500) {
		t.Errorf("turn_detection.silence_duration_ms = %v, want 500", td["silence_duration_ms"])
	}
}

func TestBuildAudioAppend(t *testing.T) {
	tests := []struct {
		name  string
		audio []byte
		want  string
	}{
		{"three bytes", []byte{1, 2, 3}, "AQID"},
		{"padding", []byte{0xff}, "/w=="},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := BuildAudioAppend(tt.audio)
			if ev.Type != TypeAudioAppend {
				t.Errorf("Type = %q, want %q", ev.Type, TypeAudioAppend)
			}
			if ev.Audio != tt.want {
				t.Errorf("Audio = %q, want %q", ev.Audio, tt.want)
			}
		})
	}
}

func TestBuildCommitAndResponseCreate(t *testing.T) {
	commit, err := json.Marshal(BuildCommit())
	if err != nil {
		t.Fatalf("Marshal(commit) error = %v", err)
	}
	jsonEqual(t, commit, `{"type":"input_audio_buffer.commit"}`)

	create, err := json.Marshal(BuildResponseCreate())
	if err != nil {
		t.Fatalf("Marshal(create) error = %v", err)
	}
	jsonEqual(t, create, `{"type":"response.create","response":{"modalities":["text","audio"]}}`)
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantType  string
		wantDelta string
		hasDelta  bool
	}{
		{"transcript delta", `{"type":"response.audio_transcript.delta","delta":"Hel"}`, TypeTranscriptDelta, "Hel", true},
		{"done", `{"type":"response.done","response":{"status":"completed"}}`, TypeResponseDone, "", false},
		{"unknown type passes", `{"type":"rate_limits.updated","rate_limits":[]}`, "rate_limits.updated", "", false},
		{"null delta", `{"type":"x","delta":null}`, "x", "", false},
		{"empty delta", `{"type":"response.audio_transcript.delta","delta":""}`, TypeTranscriptDelta, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if ev.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", ev.Type, tt.wantType)
			}
			if ev.Delta != tt.wantDelta || ev.HasDelta != tt.hasDelta {
				t.Errorf("Delta = %q (has %v), want %q (has %v)", ev.Delta, ev.HasDelta, tt.wantDelta, tt.hasDelta)
			}
			if string(ev.Raw) != tt.raw {
				t.Errorf("Raw = %s, want %s", ev.Raw, tt.raw)
			}
		})
	}
}

func TestParseEventMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"truncated", `{"type":"response.done"`},
		{"array", `["response.done"]`},
		{"missing type", `{"delta":"x"}`},
		{"numeric type", `{"type":7}`},
		{"numeric delta", `{"type":"response.audio_transcript.delta","delta":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.raw))
			if !apperrors.IsCode(err, apperrors.CodeMalformedEvent) {
				t.Errorf("ParseEvent() error = %v, want MALFORMED_EVENT", err)
			}
		})
	}
}

func TestEventPredicates(t *testing.T) {
	if !(Event{Type: TypeTranscriptDelta}).IsTranscriptDelta() {
		t.Error("transcript delta not recognised")
	}
	if (Event{Type: "response.text.delta"}).IsTranscriptDelta() {
		t.Error("text delta treated as transcript delta")
	}
	if !(Event{Type: TypeResponseDone}).IsDone() {
		t.Error("response.done not recognised")
	}
	if (Event{Type: "response.output_item.done"}).IsDone() {
		t.Error("output_item.done treated as response.done")
	}
}

func TestClientMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want string
	}{
		{"ready", Ready(), `{"type":"ready"}`},
		{"pong", Pong(), `{"type":"pong"}`},
		{"error", Error(MsgEmptyAudio), `{"type":"error","message":"Audio data is empty"}`},
		{"complete", ResponseComplete("Hello"), `{"type":"response_complete","transcript":"Hello"}`},
		{"complete empty", ResponseComplete(""), `{"type":"response_complete","transcript":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			jsonEqual(t, data, tt.want)
		})
	}
}

func TestIsPing(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{"type":"ping"}`, true},
		{`{"type":"ping","ts":1}`, true},
		{`{"type":"pong"}`, false},
		{`ping`, false},
		{`{"type":1}`, false},
		{``, false},
	}
	for _, tt := range tests {
		if got := IsPing([]byte(tt.in)); got != tt.want {
			t.Errorf("IsPing(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
