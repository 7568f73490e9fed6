package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simsketch/avilonai.com/internal/render"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrInvalidMood = errors.New("mood score must be between 1 and 10")
)

type Session struct {
	ID                string            `json:"session_id"`
	UserID            string            `json:"user_id"`
	Status            Status            `json:"status"`
	Type              SessionType       `json:"session_type"`
	Mode              SessionMode       `json:"session_mode"`
	AvatarType        render.AvatarType `json:"avatar_type"`
	Avatar            AvatarProfile     `json:"avatar"`
	CBTExercise       string            `json:"cbt_exercise,omitempty"`
	MoodScore         int               `json:"mood_score,omitempty"`
	ActiveTurnID      string            `json:"active_turn_id"`
	InterruptionCount int               `json:"interruption_count"`
	StartedAt         time.Time         `json:"started_at"`
	LastActivityAt    time.Time         `json:"last_activity_at"`
}

// Options shape a session at creation time. Zero values fall back to an
// emotional conversation over text with the default avatar.
type Options struct {
	Type        SessionType
	Mode        SessionMode
	AvatarType  render.AvatarType
	Avatar      AvatarProfile
	CBTExercise string
	MoodScore   int
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	defaultAvatarType render.AvatarType
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration, defaultAvatarType render.AvatarType) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	if defaultAvatarType == "" {
		defaultAvatarType = render.AvatarClientAvatar
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		defaultAvatarType: defaultAvatarType,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID string, opts Options) (*Session, error) {
	if opts.MoodScore != 0 && (opts.MoodScore < 1 || opts.MoodScore > 10) {
		return nil, ErrInvalidMood
	}
	if opts.Type == "" {
		opts.Type = TypeEmotionalConversation
	}
	switch opts.Type {
	case TypeQuickCheckin, TypeGuidedCBT, TypeEmotionalConversation:
	default:
		return nil, fmt.Errorf("unknown session type %q", opts.Type)
	}
	if opts.Mode == "" {
		opts.Mode = ModeText
	}
	switch opts.Mode {
	case ModeText, ModeVideo:
	default:
		return nil, fmt.Errorf("unknown session mode %q", opts.Mode)
	}
	if opts.AvatarType == "" {
		opts.AvatarType = m.defaultAvatarType
	}
	if _, err := render.ParseAvatarType(string(opts.AvatarType)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		Type:           opts.Type,
		Mode:           opts.Mode,
		AvatarType:     opts.AvatarType,
		Avatar:         opts.Avatar,
		CBTExercise:    opts.CBTExercise,
		MoodScore:      opts.MoodScore,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetMood records a fresh self-reported mood reading mid-session.
func (m *Manager) SetMood(sessionID string, score int) error {
	if score < 1 || score > 10 {
		return ErrInvalidMood
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.MoodScore = score
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetAvatar switches the session's presentation target mid-session. The
// caller is responsible for tearing down any live media connection bound to
// the previous avatar.
func (m *Manager) SetAvatar(sessionID string, avatarType render.AvatarType, profile AvatarProfile) error {
	if _, err := render.ParseAvatarType(string(avatarType)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.AvatarType = avatarType
	if profile.FaceID != "" || profile.VoiceID != "" {
		s.Avatar = profile
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) StartTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ActiveTurnID = turnID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Interrupt(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.InterruptionCount++
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	if s.UserID != "" {
		delete(m.sessionByUser, s.UserID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.ActiveTurnID = ""
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.UserID != "" {
			delete(m.sessionByUser, s.UserID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
