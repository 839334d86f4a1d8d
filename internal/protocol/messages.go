package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message kinds exchanged over the voice-agent websocket.
const (
	// Client -> Server
	KindAudioChunk = "audio_chunk"
	KindEndSession = "end_session"

	// Server -> Client
	KindConnectionEstablished = "connection_established"
	KindTranscription         = "transcription"
	KindLLMResponse           = "llm_response"
	KindAudioResponse         = "audio_response"
	KindStatusUpdate          = "status_update"
	KindError                 = "error"
)

// DecodeError describes a frame that failed structural validation.
type DecodeError struct {
	Message string
	Field   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Field) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Field)
}

func malformed(message, field string) *DecodeError {
	return &DecodeError{Message: message, Field: field}
}

// UnhandledKindError marks a frame whose kind the server knows about but does
// not accept from clients.
type UnhandledKindError struct {
	Kind string
}

func (e *UnhandledKindError) Error() string {
	return fmt.Sprintf("unhandled message type: %s", e.Kind)
}

// AudioChunk carries one base64-encoded audio fragment from the client.
type AudioChunk struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	IsFinal bool   `json:"is_final,omitempty"`
}

// Payload decodes the base64 audio bytes.
func (c AudioChunk) Payload() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Data)
}

// EndSession asks the server to terminate the session.
type EndSession struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one inbound frame into its typed variant.
// A recognized server-to-client kind arriving inbound yields an
// UnhandledKindError; anything else that fails validation yields a
// DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, malformed("invalid json frame", "")
	}
	kind := strings.TrimSpace(envelope.Type)
	if kind == "" {
		return nil, malformed("missing type", "type")
	}

	switch kind {
	case KindAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("invalid audio_chunk frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, malformed("audio_chunk.data is required", "data")
		}
		if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
			return nil, malformed("audio_chunk.data must be base64", "data")
		}
		return msg, nil
	case KindEndSession:
		var msg EndSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("invalid end_session frame", "")
		}
		return msg, nil
	case KindConnectionEstablished, KindTranscription, KindLLMResponse,
		KindAudioResponse, KindStatusUpdate, KindError:
		return nil, &UnhandledKindError{Kind: kind}
	default:
		return nil, malformed(fmt.Sprintf("unknown message type: %s", kind), "type")
	}
}

// ConnectionEstablished confirms session creation to the client.
type ConnectionEstablished struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
}

func NewConnectionEstablished(sessionID, agent string) ConnectionEstablished {
	return ConnectionEstablished{Type: KindConnectionEstablished, SessionID: sessionID, Agent: agent}
}

// Transcription carries recognized text back to the client.
type Transcription struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final,omitempty"`
}

func NewTranscription(text string, final bool) Transcription {
	return Transcription{Type: KindTranscription, Text: text, IsFinal: final}
}

// LLMResponse carries the assistant reply text.
type LLMResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewLLMResponse(text string) LLMResponse {
	return LLMResponse{Type: KindLLMResponse, Text: text}
}

// AudioResponse carries one base64-encoded synthesized audio chunk.
type AudioResponse struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	IsFinal bool   `json:"is_final,omitempty"`
}

func NewAudioResponse(audio []byte, final bool) AudioResponse {
	return AudioResponse{
		Type:    KindAudioResponse,
		Data:    base64.StdEncoding.EncodeToString(audio),
		IsFinal: final,
	}
}

// StatusUpdate reports pipeline progress.
type StatusUpdate struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

func NewStatusUpdate(status string) StatusUpdate {
	return StatusUpdate{Type: KindStatusUpdate, Status: status}
}

// ServerError reports a recoverable failure to the client.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewServerError(message string) ServerError {
	return ServerError{Type: KindError, Message: message}
}

// Bus subjects for session and transcript event fan-out.
const (
	SubjectSessionStarted  = "voice.session.started"
	SubjectSessionEnded    = "voice.session.ended"
	SubjectTranscriptFinal = "voice.transcript.final"
	SubjectResponseFinal   = "voice.response.final"
)

// SessionEvent is broadcast on the bus when a session starts or ends.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEvent is broadcast on the bus for each completed turn.
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
