package room

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ConnectionState tracks one session's media connection lifecycle.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateEnded      ConnectionState = "ended"
	StateFailed     ConnectionState = "failed"
)

// EventType marks connection lifecycle transitions observers can react to.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventBotLeft      EventType = "bot_left"
	EventDisconnected EventType = "disconnected"
	EventFailed       EventType = "failed"
)

type Event struct {
	Type      EventType
	SessionID string
	Detail    string
	At        time.Time
}

var (
	// ErrConnectFailed marks a connection that could not be established.
	ErrConnectFailed = errors.New("room connect failed")
	// ErrBotLeft marks a connection torn down because the bot participant left.
	ErrBotLeft = errors.New("bot left the room")
	// ErrAlreadyEnded marks operations on a finished connection.
	ErrAlreadyEnded = errors.New("connection already ended")
)

// Connection is one live session attachment to a room. Transitions are
// one-way: idle -> connecting -> connected -> ended or failed.
type Connection struct {
	SessionID  string
	AvatarType string
	Grant      Grant

	mu     sync.Mutex
	state  ConnectionState
	muted  bool
	events chan Event
	log    zerolog.Logger
}

func NewConnection(sessionID, avatarType string, log zerolog.Logger) *Connection {
	return &Connection{
		SessionID:  sessionID,
		AvatarType: avatarType,
		state:      StateIdle,
		events:     make(chan Event, 16),
		log:        log.With().Str("session_id", sessionID).Str("avatar_type", avatarType).Logger(),
	}
}

func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events exposes lifecycle transitions. The channel closes when the
// connection reaches a terminal state.
func (c *Connection) Events() <-chan Event { return c.events }

func (c *Connection) markConnecting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrAlreadyEnded
	}
	c.state = StateConnecting
	return nil
}

func (c *Connection) markConnected(grant Grant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return ErrAlreadyEnded
	}
	c.state = StateConnected
	c.Grant = grant
	c.log.Info().Str("room", grant.Room.Name).Msg("session connected to room")
	c.emitLocked(EventConnected, "")
	return nil
}

func (c *Connection) markFailed(detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded || c.state == StateFailed {
		return
	}
	c.state = StateFailed
	c.log.Warn().Str("detail", detail).Msg("session connection failed")
	c.emitLocked(EventFailed, detail)
	close(c.events)
}

// BotLeft tears the connection down because the bot participant dropped.
func (c *Connection) BotLeft() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return
	}
	c.state = StateEnded
	c.log.Warn().Msg("bot left room, ending session connection")
	c.emitLocked(EventBotLeft, ErrBotLeft.Error())
	close(c.events)
}

// End finishes the connection normally.
func (c *Connection) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded || c.state == StateFailed {
		return
	}
	prev := c.state
	c.state = StateEnded
	c.log.Info().Str("from", string(prev)).Msg("session connection ended")
	c.emitLocked(EventDisconnected, "")
	close(c.events)
}

// SetMuted toggles the user's microphone without touching connection state.
func (c *Connection) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrAlreadyEnded
	}
	c.muted = muted
	return nil
}

func (c *Connection) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Connection) emitLocked(t EventType, detail string) {
	select {
	case c.events <- Event{Type: t, SessionID: c.SessionID, Detail: detail, At: time.Now().UTC()}:
	default:
		// Never block a state transition on a slow observer.
	}
}
