package protocol

import "github.com/tidwall/gjson"

// Client message types.
const (
	ClientReady            = "ready"
	ClientPing             = "ping"
	ClientPong             = "pong"
	ClientError            = "error"
	ClientResponseComplete = "response_complete"
)

// MsgEmptyAudio is reported when a client sends a zero-length binary frame.
const MsgEmptyAudio = "Audio data is empty"

// Message is a server-to-client control message without payload.
type Message struct {
	Type string `json:"type"`
}

// ErrorMessage reports a failure to the client in human-readable form.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CompleteMessage always carries the transcript field, empty or not.
type CompleteMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

// Ready is sent once when a client connects.
func Ready() Message { return Message{Type: ClientReady} }

// Pong answers a client ping.
func Pong() Message { return Message{Type: ClientPong} }

// Error builds an error message carrying msg verbatim.
func Error(msg string) ErrorMessage { return ErrorMessage{Type: ClientError, Message: msg} }

// ResponseComplete closes a submission with the aggregated transcript.
func ResponseComplete(transcript string) CompleteMessage {
	return CompleteMessage{Type: ClientResponseComplete, Transcript: transcript}
}

// ClientMessageType returns the type tag of a client text frame. ok is false
// for anything that is not a JSON object with a string type.
func ClientMessageType(data []byte) (typ string, ok bool) {
	if !gjson.ValidBytes(data) {
		return "", false
	}
	t := gjson.GetBytes(data, "type")
	if t.Type != gjson.String {
		return "", false
	}
	return t.Str, true
}

// IsPing reports whether a client text frame is a keepalive ping.
func IsPing(data []byte) bool {
	typ, ok := ClientMessageType(data)
	return ok && typ == ClientPing
}
