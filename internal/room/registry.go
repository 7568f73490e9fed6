package room

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Provisioner creates rooms and join grants for sessions.
type Provisioner interface {
	Provision(ctx context.Context, sessionID string) (Grant, error)
}

// Registry enforces at most one live connection per session. Concurrent
// connects for the same session share one in-flight attempt instead of
// provisioning duplicate rooms.
type Registry struct {
	provisioner Provisioner
	log         zerolog.Logger

	mu          sync.Mutex
	active      map[string]*Connection
	pending     map[string]*pendingConnect
	botLeftHook func(sessionID string)
}

// SetBotLeftHook registers a callback fired when the bot participant drops
// out of a live room. The session should be treated as a normal session end.
func (r *Registry) SetBotLeftHook(hook func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.botLeftHook = hook
}

type pendingConnect struct {
	done chan struct{}
	conn *Connection
	err  error
}

func NewRegistry(provisioner Provisioner, log zerolog.Logger) *Registry {
	return &Registry{
		provisioner: provisioner,
		log:         log,
		active:      make(map[string]*Connection),
		pending:     make(map[string]*pendingConnect),
	}
}

// Connect returns the session's live connection, establishing one if needed.
// Only one session may hold a connection at a time: connecting a new session
// tears down any other session's connection first. Reconnecting the same
// session with a different avatar type also tears down and rebuilds. A failed
// attempt clears the pending slot so the session can retry.
func (r *Registry) Connect(ctx context.Context, sessionID, avatarType string) (*Connection, error) {
	for {
		r.mu.Lock()
		// Evict any other session's live connection.
		var stale []*Connection
		for id, conn := range r.active {
			if id != sessionID {
				delete(r.active, id)
				stale = append(stale, conn)
			}
		}
		if len(stale) > 0 {
			r.mu.Unlock()
			for _, conn := range stale {
				conn.End()
			}
			continue
		}
		if conn, ok := r.active[sessionID]; ok {
			if conn.AvatarType == avatarType && conn.State() == StateConnected {
				r.mu.Unlock()
				return conn, nil
			}
			// Avatar switch or dead connection: tear down and rebuild.
			delete(r.active, sessionID)
			r.mu.Unlock()
			conn.End()
			continue
		}
		if p, ok := r.pending[sessionID]; ok {
			r.mu.Unlock()
			select {
			case <-p.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if p.err != nil {
				return nil, p.err
			}
			if p.conn.AvatarType == avatarType {
				return p.conn, nil
			}
			// The shared attempt connected a different avatar type; retry.
			continue
		}

		p := &pendingConnect{done: make(chan struct{})}
		r.pending[sessionID] = p
		r.mu.Unlock()

		p.conn, p.err = r.establish(ctx, sessionID, avatarType)

		r.mu.Lock()
		delete(r.pending, sessionID)
		if p.err == nil {
			// Another session may have connected while this one was being
			// established. The newest connect wins; evict the rest so at most
			// one session is ever live.
			for id, conn := range r.active {
				if id != sessionID {
					delete(r.active, id)
					stale = append(stale, conn)
				}
			}
			r.active[sessionID] = p.conn
		}
		r.mu.Unlock()
		for _, conn := range stale {
			conn.End()
		}
		if p.err == nil {
			go r.watch(p.conn)
		}
		close(p.done)

		return p.conn, p.err
	}
}

// watch drains a connection's lifecycle events until its channel closes. A
// bot departure removes the registration and fires the hook; every other
// terminal transition already ran through Disconnect or eviction.
func (r *Registry) watch(conn *Connection) {
	for ev := range conn.Events() {
		if ev.Type != EventBotLeft {
			continue
		}
		r.mu.Lock()
		if r.active[conn.SessionID] == conn {
			delete(r.active, conn.SessionID)
		}
		hook := r.botLeftHook
		r.mu.Unlock()
		if hook != nil {
			hook(conn.SessionID)
		}
	}
}

// HandleParticipantLeft ingests a participant-left event from the room
// provider. Only the bot participant's departure tears the session down.
func (r *Registry) HandleParticipantLeft(sessionID, participantID string) bool {
	r.mu.Lock()
	conn, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok || participantID == "" || participantID != conn.Grant.BotID {
		return false
	}
	conn.BotLeft()
	return true
}

func (r *Registry) establish(ctx context.Context, sessionID, avatarType string) (*Connection, error) {
	conn := NewConnection(sessionID, avatarType, r.log)
	if err := conn.markConnecting(); err != nil {
		return nil, err
	}

	grant, err := r.provisioner.Provision(ctx, sessionID)
	if err != nil {
		conn.markFailed(err.Error())
		return nil, err
	}
	if err := conn.markConnected(grant); err != nil {
		return nil, err
	}
	return conn, nil
}

// Lookup returns the live connection without creating one.
func (r *Registry) Lookup(sessionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.active[sessionID]
	return conn, ok
}

// Disconnect ends and removes the session's connection. With force set the
// teardown happens even while a turn may be in flight.
func (r *Registry) Disconnect(sessionID string, force bool) bool {
	r.mu.Lock()
	conn, ok := r.active[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if !force && conn.State() != StateConnected {
		r.mu.Unlock()
		return false
	}
	delete(r.active, sessionID)
	r.mu.Unlock()

	conn.End()
	r.log.Info().Str("session_id", sessionID).Bool("force", force).Msg("session disconnected")
	return true
}

// DisconnectAll tears down every live connection, used on shutdown.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.active))
	for _, c := range r.active {
		conns = append(conns, c)
	}
	r.active = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.End()
	}
}

// ActiveCount reports the number of live connections.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
