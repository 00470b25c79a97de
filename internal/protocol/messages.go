package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies realtime websocket payload variants.
type MessageType string

// Client to server.
const (
	TypeSessionUpdate          MessageType = "session.update"
	TypeInputAudioAppend       MessageType = "input_audio_buffer.append"
	TypeInputAudioCommit       MessageType = "input_audio_buffer.commit"
	TypeConversationItemCreate MessageType = "conversation.item.create"
	TypeResponseCreate         MessageType = "response.create"
)

// Server to client.
const (
	TypeSessionCreated          MessageType = "session.created"
	TypeSessionUpdated          MessageType = "session.updated"
	TypeResponseCreated         MessageType = "response.created"
	TypeResponseDone            MessageType = "response.done"
	TypeResponseAudioDelta      MessageType = "response.audio.delta"
	TypeResponseTranscriptDelta MessageType = "response.audio_transcript.delta"
	TypeInputAudioCommitted     MessageType = "input_audio_buffer.committed"
	TypeSpeechStarted           MessageType = "input_audio_buffer.speech_started"
	TypeSpeechStopped           MessageType = "input_audio_buffer.speech_stopped"
	TypeTranscriptionCompleted  MessageType = "conversation.item.input_audio_transcription.completed"
	TypeTranscriptionFailed     MessageType = "conversation.item.input_audio_transcription.failed"
	TypeError                   MessageType = "error"
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ---- outbound ----

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type SessionConfig struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	Temperature             *float64                 `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                      `json:"max_response_output_tokens,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
}

type SessionUpdate struct {
	Type    MessageType   `json:"type"`
	Session SessionConfig `json:"session"`
}

type InputAudioAppend struct {
	Type  MessageType `json:"type"`
	Audio string      `json:"audio"`
}

type InputAudioCommit struct {
	Type MessageType `json:"type"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ConversationItemCreate struct {
	Type MessageType      `json:"type"`
	Item ConversationItem `json:"item"`
}

type ResponseCreate struct {
	Type MessageType `json:"type"`
}

// SessionSettings are the user-facing knobs of the session configuration.
type SessionSettings struct {
	Instructions string
	Voice        string
	// Temperature is omitted from the message when nil.
	Temperature          *float64
	TranscriptionModel   string
	DisableTurnDetection bool
}

// NewSessionUpdate builds the session.update sent right after connecting:
// audio and text modalities, capped response tokens and server-side VAD.
func NewSessionUpdate(s SessionSettings) SessionUpdate {
	cfg := SessionConfig{
		Modalities:              []string{"audio", "text"},
		Instructions:            s.Instructions,
		Voice:                   s.Voice,
		Temperature:             s.Temperature,
		MaxResponseOutputTokens: 200,
	}
	if !s.DisableTurnDetection {
		cfg.TurnDetection = &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.1,
			PrefixPaddingMS:   500,
			SilenceDurationMS: 3000,
		}
	}
	if s.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &InputAudioTranscription{Model: s.TranscriptionModel}
	}
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

func NewInputAudioAppend(audioBase64 string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioAppend, Audio: audioBase64}
}

func NewInputAudioCommit() InputAudioCommit {
	return InputAudioCommit{Type: TypeInputAudioCommit}
}

// NewUserText builds a user text item for conversation.item.create.
func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

// ---- inbound ----

type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Voice string `json:"voice"`
}

type SessionCreated struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"event_id"`
	Session SessionInfo `json:"session"`
}

type ResponseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type ResponseCreated struct {
	Type     MessageType  `json:"type"`
	EventID  string       `json:"event_id"`
	Response ResponseInfo `json:"response"`
}

type ResponseDone struct {
	Type     MessageType  `json:"type"`
	EventID  string       `json:"event_id"`
	Response ResponseInfo `json:"response"`
}

type ResponseAudioDelta struct {
	Type       MessageType `json:"type"`
	EventID    string      `json:"event_id"`
	ResponseID string      `json:"response_id"`
	ItemID     string      `json:"item_id"`
	Delta      string      `json:"delta"`
}

type ResponseTranscriptDelta struct {
	Type       MessageType `json:"type"`
	EventID    string      `json:"event_id"`
	ResponseID string      `json:"response_id"`
	ItemID     string      `json:"item_id"`
	Delta      string      `json:"delta"`
}

type InputAudioCommitted struct {
	Type           MessageType `json:"type"`
	EventID        string      `json:"event_id"`
	PreviousItemID string      `json:"previous_item_id"`
	ItemID         string      `json:"item_id"`
}

type SpeechStarted struct {
	Type         MessageType `json:"type"`
	EventID      string      `json:"event_id"`
	AudioStartMS int         `json:"audio_start_ms"`
	ItemID       string      `json:"item_id"`
}

type SpeechStopped struct {
	Type       MessageType `json:"type"`
	EventID    string      `json:"event_id"`
	AudioEndMS int         `json:"audio_end_ms"`
	ItemID     string      `json:"item_id"`
}

type TranscriptionCompleted struct {
	Type       MessageType `json:"type"`
	EventID    string      `json:"event_id"`
	ItemID     string      `json:"item_id"`
	Transcript string      `json:"transcript"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TranscriptionFailed struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"event_id"`
	ItemID  string      `json:"item_id"`
	Error   ErrorDetail `json:"error"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"event_id"`
	Error   ErrorDetail `json:"error"`
}

// Unknown carries any server message this client does not interpret.
type Unknown struct {
	Type MessageType
	Raw  json.RawMessage
}

// ParseServerMessage decodes one inbound message. Unrecognised types come back
// as Unknown; only malformed JSON is an error.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	var msg any
	switch env.Type {
	case TypeSessionCreated, TypeSessionUpdated:
		msg = &SessionCreated{}
	case TypeResponseCreated:
		msg = &ResponseCreated{}
	case TypeResponseDone:
		msg = &ResponseDone{}
	case TypeResponseAudioDelta:
		msg = &ResponseAudioDelta{}
	case TypeResponseTranscriptDelta:
		msg = &ResponseTranscriptDelta{}
	case TypeInputAudioCommitted:
		msg = &InputAudioCommitted{}
	case TypeSpeechStarted:
		msg = &SpeechStarted{}
	case TypeSpeechStopped:
		msg = &SpeechStopped{}
	case TypeTranscriptionCompleted:
		msg = &TranscriptionCompleted{}
	case TypeTranscriptionFailed:
		msg = &TranscriptionFailed{}
	case TypeError:
		msg = &ErrorEvent{}
	default:
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		return Unknown{Type: env.Type, Raw: cp}, nil
	}
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return deref(msg), nil
}

func deref(msg any) any {
	switch m := msg.(type) {
	case *SessionCreated:
		return *m
	case *ResponseCreated:
		return *m
	case *ResponseDone:
		return *m
	case *ResponseAudioDelta:
		return *m
	case *ResponseTranscriptDelta:
		return *m
	case *InputAudioCommitted:
		return *m
	case *SpeechStarted:
		return *m
	case *SpeechStopped:
		return *m
	case *TranscriptionCompleted:
		return *m
	case *TranscriptionFailed:
		return *m
	case *ErrorEvent:
		return *m
	default:
		return msg
	}
}

// TypeOf reports the message type of any value produced or accepted by this
// package.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case SessionUpdate:
		return m.Type, true
	case InputAudioAppend:
		return m.Type, true
	case InputAudioCommit:
		return m.Type, true
	case ConversationItemCreate:
		return m.Type, true
	case ResponseCreate:
		return m.Type, true
	case SessionCreated:
		return m.Type, true
	case ResponseCreated:
		return m.Type, true
	case ResponseDone:
		return m.Type, true
	case ResponseAudioDelta:
		return m.Type, true
	case ResponseTranscriptDelta:
		return m.Type, true
	case InputAudioCommitted:
		return m.Type, true
	case SpeechStarted:
		return m.Type, true
	case SpeechStopped:
		return m.Type, true
	case TranscriptionCompleted:
		return m.Type, true
	case TranscriptionFailed:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	case Unknown:
		return m.Type, true
	default:
		return "", false
	}
}
