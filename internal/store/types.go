package store

import (
	"context"
	"time"

	"github.com/simsketch/avilonai.com/internal/crisis"
)

// Turn stores a single user or assistant conversational turn.
type Turn struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	AudioRef    string    `json:"audio_ref,omitempty"`
	VideoRef    string    `json:"video_ref,omitempty"`
	Crisis      bool      `json:"crisis"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Roles recorded against a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store persists conversation turns and crisis incidents.
type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	SaveIncident(ctx context.Context, incident crisis.Incident) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Close() error
}
