package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientText       MessageType = "client_text"
	TypeClientControl    MessageType = "client_control"

	TypeTranscriptPartial   MessageType = "transcript_partial"
	TypeTranscriptFinal     MessageType = "transcript_final"
	TypeCaption             MessageType = "caption"
	TypeViseme              MessageType = "viseme"
	TypeSpeakingState       MessageType = "speaking_state"
	TypeGreeting            MessageType = "greeting"
	TypeAssistantAudioChunk MessageType = "assistant_audio_chunk"
	TypeBotResponseEnd      MessageType = "bot_response_end"
	TypeVideoReady          MessageType = "video_ready"
	TypeSystemEvent         MessageType = "system_event"
	TypeErrorEvent          MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries captured microphone audio toward transcription.
// Commit marks the chunk that closes the current utterance.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Commit      bool        `json:"commit,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientText is a typed user turn for text session mode.
type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type TranscriptPartial struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

type TranscriptFinal struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

// Caption feeds the client overlay. Interim captions replace the speaker's
// previous interim until IsFinal freezes the line.
type Caption struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	IsFinal   bool        `json:"is_final"`
}

// VisemeEvent drives the client-rendered avatar mouth shape.
type VisemeEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Viseme    string      `json:"viseme"`
	Weight    float64     `json:"weight"`
	OffsetMS  int64       `json:"offset_ms"`
}

type SpeakingState struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	IsSpeaking bool        `json:"is_speaking"`
}

// Greeting is the bot's opening utterance, delivered as an already-final line.
type Greeting struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type BotResponseEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

// VideoReady announces the finished clip URL for async clip rendering.
type VideoReady struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	VideoURL  string      `json:"video_url"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// Control actions accepted from clients.
const (
	ActionStop      = "stop"
	ActionMute      = "mute"
	ActionUnmute    = "unmute"
	ActionInterrupt = "interrupt"
)

func validControlAction(a string) bool {
	switch a {
	case ActionStop, ActionMute, ActionUnmute, ActionInterrupt:
		return true
	}
	return false
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || !validControlAction(msg.Action) {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
