package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/simsketch/avilonai.com/internal/render"
	"github.com/simsketch/avilonai.com/internal/session"
)

type connectRequest struct {
	SessionID string `json:"session_id"`
}

// connectResponse hands the client everything it needs to join the live room.
// The bot token never leaves the server.
type connectResponse struct {
	SessionID  string `json:"session_id"`
	AvatarType string `json:"avatar_type"`
	RoomURL    string `json:"room_url"`
	Token      string `json:"token"`
	BotID      string `json:"bot_id"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.rooms == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "room connections not configured")
		return
	}
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.rooms.Connect(r.Context(), sess.ID, string(sess.AvatarType))
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("room", "connect_failed").Inc()
		respondError(w, http.StatusBadGateway, "connect_failed", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("room_connected").Inc()

	respondJSON(w, http.StatusOK, connectResponse{
		SessionID:  sess.ID,
		AvatarType: string(sess.AvatarType),
		RoomURL:    conn.Grant.Room.URL,
		Token:      conn.Grant.ClientToken,
		BotID:      conn.Grant.BotID,
	})
}

// handleStopRoom tears down a live room without ending the session, so the
// client can fall back to text mode.
func (s *Server) handleStopRoom(w http.ResponseWriter, r *http.Request) {
	if s.rooms == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "room connections not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session id is required")
		return
	}
	s.rooms.Disconnect(id, true)
	s.metrics.SessionEvents.WithLabelValues("room_stopped").Inc()
	respondJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"status":     "stopped",
	})
}

type roomEventRequest struct {
	Event         string `json:"event"`
	ParticipantID string `json:"participant_id"`
}

// handleRoomEvent ingests room provider webhooks. Only a participant-left
// event for the bot participant changes anything; the registry tears the
// connection down and the bot-left hook ends the session.
func (s *Server) handleRoomEvent(w http.ResponseWriter, r *http.Request) {
	if s.rooms == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "room connections not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req roomEventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	handled := false
	if req.Event == "participant_left" {
		handled = s.rooms.HandleParticipantLeft(id, strings.TrimSpace(req.ParticipantID))
		if handled {
			s.metrics.SessionEvents.WithLabelValues("room_bot_left").Inc()
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"handled":    handled,
	})
}

type switchAvatarRequest struct {
	AvatarType string `json:"avatar_type"`
	FaceID     string `json:"face_id,omitempty"`
	VoiceID    string `json:"voice_id,omitempty"`
}

// handleSwitchAvatar changes the presentation strategy mid-session. Any live
// room bound to the previous avatar is torn down so the next connect starts
// clean.
func (s *Server) handleSwitchAvatar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req switchAvatarRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	avatarType, err := render.ParseAvatarType(strings.TrimSpace(req.AvatarType))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_avatar_type", err.Error())
		return
	}

	err = s.sessions.SetAvatar(id, avatarType, session.AvatarProfile{
		FaceID:  strings.TrimSpace(req.FaceID),
		VoiceID: strings.TrimSpace(req.VoiceID),
	})
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.rooms != nil {
		s.rooms.Disconnect(id, true)
	}
	s.metrics.SessionEvents.WithLabelValues("avatar_switched").Inc()

	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}
