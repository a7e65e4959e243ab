// Package protocol builds the outbound realtime API events and decodes the inbound ones.
// Nothing here performs I/O; callers marshal the returned values onto their sockets.
package protocol

import (
	"encoding/base64"
	"slices"

	"github.com/tidwall/gjson"

	apperrors "github.com/GriffinCanCode/realtime-relay/internal/errors"
)

// Realtime API event types.
const (
	TypeSessionUpdate   = "session.update"
	TypeAudioAppend     = "input_audio_buffer.append"
	TypeAudioCommit     = "input_audio_buffer.commit"
	TypeResponseCreate  = "response.create"
	TypeTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseDone    = "response.done"
)

// Session policy defaults.
const (
	DefaultInstructions       = "You are a helpful AI assistant. Have a natural conversation with the user in English."
	DefaultVoice              = "alloy"
	DefaultAudioFormat        = "pcm16"
	DefaultTranscriptionModel = "whisper-1"
)

// ModalitiesTextAudio enables both text and audio output.
var ModalitiesTextAudio = []string{"text", "audio"}

// Transcription selects the model used to transcribe input audio.
type Transcription struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig is the handshake policy sent in session.update. A nil
// TurnDetection is serialised as null, which disables server VAD.
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection"`
}

// DefaultSessionConfig returns the relay's fixed session policy.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:              slices.Clone(ModalitiesTextAudio),
		Instructions:            DefaultInstructions,
		Voice:                   DefaultVoice,
		InputAudioFormat:        DefaultAudioFormat,
		OutputAudioFormat:       DefaultAudioFormat,
		InputAudioTranscription: &Transcription{Model: DefaultTranscriptionModel},
	}
}

// clone returns a deep copy so built events never alias the caller's value.
func (c SessionConfig) clone() SessionConfig {
	c.Modalities = slices.Clone(c.Modalities)
	if c.InputAudioTranscription != nil {
		t := *c.InputAudioTranscription
		c.InputAudioTranscription = &t
	}
	if c.TurnDetection != nil {
		td := *c.TurnDetection
		c.TurnDetection = &td
	}
	return c
}

// SessionUpdateEvent is the first message of every upstream session.
type SessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// AudioAppendEvent carries the whole submission as base64 PCM.
type AudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// CommitEvent ends the input audio buffer.
type CommitEvent struct {
	Type string `json:"type"`
}

// ResponseConfig selects the output modalities of a response.
type ResponseConfig struct {
	Modalities []string `json:"modalities"`
}

// ResponseCreateEvent asks the model to respond to the committed audio.
type ResponseCreateEvent struct {
	Type     string         `json:"type"`
	Response ResponseConfig `json:"response"`
}

// BuildSessionUpdate wraps cfg in a session.update event.
func BuildSessionUpdate(cfg SessionConfig) SessionUpdateEvent {
	return SessionUpdateEvent{Type: TypeSessionUpdate, Session: cfg.clone()}
}

// BuildAudioAppend base64-encodes audio into an input_audio_buffer.append event.
func BuildAudioAppend(audio []byte) AudioAppendEvent {
	return AudioAppendEvent{Type: TypeAudioAppend, Audio: base64.StdEncoding.EncodeToString(audio)}
}

// BuildCommit returns the input_audio_buffer.commit marker.
func BuildCommit() CommitEvent {
	return CommitEvent{Type: TypeAudioCommit}
}

// BuildResponseCreate requests a text+audio response.
func BuildResponseCreate() ResponseCreateEvent {
	return ResponseCreateEvent{
		Type:     TypeResponseCreate,
		Response: ResponseConfig{Modalities: slices.Clone(ModalitiesTextAudio)},
	}
}

// Event is a decoded upstream message. Raw is the exact text received and is
// what gets forwarded to the client.
type Event struct {
	Type     string
	Delta    string
	HasDelta bool
	Raw      []byte
}

// IsTranscriptDelta reports whether the event carries an output transcript fragment.
func (e Event) IsTranscriptDelta() bool { return e.Type == TypeTranscriptDelta }

// IsDone reports whether the event ends the response.
func (e Event) IsDone() bool { return e.Type == TypeResponseDone }

// ParseEvent decodes the type tag and optional delta of an upstream message.
// Unknown types are returned as-is; only structural problems are errors.
func ParseEvent(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return Event{}, apperrors.New(apperrors.CodeMalformedEvent, "upstream event is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Event{}, apperrors.New(apperrors.CodeMalformedEvent, "upstream event is not a JSON object")
	}

	typ := doc.Get("type")
	if typ.Type != gjson.String {
		return Event{}, apperrors.New(apperrors.CodeMalformedEvent, "upstream event has no type")
	}
	ev := Event{Type: typ.Str, Raw: raw}

	switch delta := doc.Get("delta"); delta.Type {
	case gjson.Null:
	case gjson.String:
		ev.Delta = delta.Str
		ev.HasDelta = true
	default:
		return Event{}, apperrors.New(apperrors.CodeMalformedEvent, "upstream event delta is not a string").
			WithMetadata("event", ev.Type)
	}
	return ev, nil
}
