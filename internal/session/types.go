package session

import "time"

// SessionType selects the conversational framing for a session.
type SessionType string

const (
	TypeQuickCheckin          SessionType = "quick_checkin"
	TypeGuidedCBT             SessionType = "guided_cbt"
	TypeEmotionalConversation SessionType = "emotional_conversation"
)

// SessionMode selects the presentation channel.
type SessionMode string

const (
	ModeText  SessionMode = "text"
	ModeVideo SessionMode = "video"
)

// AvatarProfile carries the assets a video session renders with.
type AvatarProfile struct {
	FaceID  string `json:"face_id"`
	VoiceID string `json:"voice_id"`
}

// CreateRequest defines the payload for starting a new session.
type CreateRequest struct {
	UserID      string `json:"user_id"`
	SessionType string `json:"session_type"`
	SessionMode string `json:"session_mode"`
	AvatarType  string `json:"avatar_type"`
	CBTExercise string `json:"cbt_exercise,omitempty"`
	MoodScore   int    `json:"mood_score,omitempty"`
	FaceID      string `json:"face_id,omitempty"`
	VoiceID     string `json:"voice_id,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string      `json:"session_id"`
	UserID          string      `json:"user_id"`
	Status          Status      `json:"status"`
	SessionType     SessionType `json:"session_type"`
	SessionMode     SessionMode `json:"session_mode"`
	AvatarType      string      `json:"avatar_type"`
	StartedAt       time.Time   `json:"started_at"`
	LastActivityAt  time.Time   `json:"last_activity_at"`
	InactivityTTLMS int64       `json:"inactivity_ttl_ms"`
}
