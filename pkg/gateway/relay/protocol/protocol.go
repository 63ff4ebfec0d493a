// Package protocol defines the JSON event vocabulary spoken on both legs of
// a voice relay session: the OpenAI Realtime API event types the relay must
// recognize in the upstream stream, and the small set of frames the relay
// itself originates toward either peer.
package protocol

import (
	"encoding/json"
	"strings"
)

// Realtime event types the relay inspects. Everything else passes through
// untouched.
const (
	EventSessionCreated           = "session.created"
	EventSessionUpdate            = "session.update"
	EventError                    = "error"
	EventResponseCreate           = "response.create"
	EventConversationItemCreate   = "conversation.item.create"
	EventFunctionCallArgsDone     = "response.function_call_arguments.done"
	EventInputAudioBufferAppend   = "input_audio_buffer.append"
	EventInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
)

// EventType extracts the type discriminator from a raw JSON frame. It
// returns an empty string when the frame is not a JSON object or carries no
// type field, which callers treat as "forward without inspection".
func EventType(data []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.Type)
}

// FunctionCallDone is the upstream event announcing a completed tool call:
// the model has finished streaming the argument JSON and expects a
// function_call_output item in return.
type FunctionCallDone struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	OutputIdx  int    `json:"output_index,omitempty"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// ParseFunctionCallDone decodes a response.function_call_arguments.done
// frame. CallID and Name must be present; empty Arguments is allowed and
// means the tool takes no parameters.
func ParseFunctionCallDone(data []byte) (FunctionCallDone, bool) {
	var ev FunctionCallDone
	if err := json.Unmarshal(data, &ev); err != nil {
		return FunctionCallDone{}, false
	}
	if strings.TrimSpace(ev.CallID) == "" || strings.TrimSpace(ev.Name) == "" {
		return FunctionCallDone{}, false
	}
	return ev, true
}

// ToolDefinition is the shape of one entry in the session's tool manifest,
// as the Realtime API expects it inside session.update.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

// SessionConfig is the session.update payload the relay sends once the
// upstream session exists. It pins the audio formats, VAD behavior, system
// instructions, and the tool manifest for the whole session.
type SessionConfig struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	Tools                   []ToolDefinition         `json:"tools,omitempty"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
}

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: EventSessionUpdate, Session: cfg}
}

// FunctionCallOutputItem carries a tool result back to the model. Output is
// the JSON-encoded result, always a string per the Realtime API.
type FunctionCallOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type ConversationItemCreate struct {
	Type string                 `json:"type"`
	Item FunctionCallOutputItem `json:"item"`
}

func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: EventConversationItemCreate,
		Item: FunctionCallOutputItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

type ResponseCreate struct {
	Type string `json:"type"`
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: EventResponseCreate}
}

// ServerConnected is the relay-originated frame telling the browser the
// upstream session is configured and audio may flow.
type ServerConnected struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func NewServerConnected(sessionID string) ServerConnected {
	return ServerConnected{Type: "connected", SessionID: sessionID}
}

// Fatal error codes carried in relay-originated error frames.
const (
	CodeAuthMissing           = "auth_missing"
	CodeAuthInvalid           = "auth_invalid"
	CodeSessionLimit          = "session_limit"
	CodeConfigurationError    = "configuration_error"
	CodeUpstreamConnectError  = "upstream_connect_error"
	CodeUpstreamProtocolError = "upstream_protocol_error"
)

// ServerError is the relay-originated error frame sent downstream before a
// fatal close, or surfaced alongside a recoverable condition.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

func NewServerError(code, message string, closing bool) ServerError {
	return ServerError{Type: "error", Code: code, Message: message, Close: closing}
}

// ServerStatus is an informational relay frame.
type ServerStatus struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewServerStatus(message string) ServerStatus {
	return ServerStatus{Type: "status", Message: message}
}
