package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/simsketch/avilonai.com/internal/caption"
	"github.com/simsketch/avilonai.com/internal/config"
	"github.com/simsketch/avilonai.com/internal/observability"
	"github.com/simsketch/avilonai.com/internal/protocol"
	"github.com/simsketch/avilonai.com/internal/render"
	"github.com/simsketch/avilonai.com/internal/room"
	"github.com/simsketch/avilonai.com/internal/session"
	"github.com/simsketch/avilonai.com/internal/voice"
)

// Pipeline is the conversation engine behind the websocket endpoint.
type Pipeline interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
	Captions(sessionID string) []caption.Entry
	ReleaseSession(sessionID string)
}

// FaceCreator registers avatar face images with the lip-sync provider.
type FaceCreator interface {
	CreateFace(ctx context.Context, name, imageBase64 string) (string, error)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	pipeline Pipeline
	rooms    *room.Registry
	clones   *voice.CloneClient
	faces    FaceCreator
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, pipeline Pipeline, rooms *room.Registry, clones *voice.CloneClient, faces FaceCreator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		pipeline: pipeline,
		rooms:    rooms,
		clones:   clones,
		faces:    faces,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another site cannot drive a user's session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Post("/v1/session/{id}/avatar", s.handleSwitchAvatar)
	r.Post("/v1/session/{id}/mood", s.handleSetMood)
	r.Get("/v1/session/{id}/captions", s.handleCaptions)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Post("/v1/connect", s.handleConnect)
	r.Delete("/v1/rooms/{id}", s.handleStopRoom)
	r.Post("/v1/rooms/{id}/events", s.handleRoomEvent)
	r.Post("/v1/avatar/face", s.handleCreateFace)
	r.Post("/v1/voice/clone", s.handleCreateClone)
	r.Get("/v1/voice/clone/{id}", s.handleCloneStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if missing := s.cfg.Missing(); len(missing) > 0 {
		body["status"] = "degraded"
		body["missing_config"] = missing
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	opts := session.Options{
		Type:        session.SessionType(strings.TrimSpace(req.SessionType)),
		Mode:        session.SessionMode(strings.TrimSpace(req.SessionMode)),
		AvatarType:  render.AvatarType(strings.TrimSpace(req.AvatarType)),
		CBTExercise: strings.TrimSpace(req.CBTExercise),
		MoodScore:   req.MoodScore,
		Avatar: session.AvatarProfile{
			FaceID:  strings.TrimSpace(req.FaceID),
			VoiceID: strings.TrimSpace(req.VoiceID),
		},
	}
	if opts.Avatar.FaceID == "" {
		opts.Avatar.FaceID = s.cfg.DefaultFaceID
	}

	sess, err := s.sessions.Create(req.UserID, opts)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		SessionType:     sess.Type,
		SessionMode:     sess.Mode,
		AvatarType:      string(sess.AvatarType),
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.rooms != nil {
		s.rooms.Disconnect(id, true)
	}
	if s.pipeline != nil {
		s.pipeline.ReleaseSession(id)
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

type setMoodRequest struct {
	MoodScore int `json:"mood_score"`
}

// handleSetMood records a mid-session mood reading so later turns can frame
// replies against how the user said they felt.
func (s *Server) handleSetMood(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req setMoodRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SetMood(id, req.MoodScore); err != nil {
		if errors.Is(err, session.ErrInvalidMood) {
			respondError(w, http.StatusBadRequest, "invalid_mood_score", err.Error())
			return
		}
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.pipeline == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pipeline not configured")
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	entries := s.pipeline.Captions(id)
	if entries == nil {
		entries = []caption.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"captions":   entries,
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.pipeline == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pipeline not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.pipeline.RunConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop when saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	default:
		return "", false
	}
}
