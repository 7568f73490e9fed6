package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type createCloneRequest struct {
	Name          string   `json:"name"`
	SamplesBase64 []string `json:"samples_base64"`
}

func (s *Server) handleCreateClone(w http.ResponseWriter, r *http.Request) {
	if s.clones == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice cloning not configured")
		return
	}
	var req createCloneRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	cloned, err := s.clones.CreateVoice(r.Context(), req.Name, req.SamplesBase64)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("voice_clone", "create_failed").Inc()
		respondError(w, http.StatusBadGateway, "clone_failed", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("voice_clone_created").Inc()
	respondJSON(w, http.StatusAccepted, cloned)
}

func (s *Server) handleCloneStatus(w http.ResponseWriter, r *http.Request) {
	if s.clones == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice cloning not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "voice id is required")
		return
	}

	cloned, err := s.clones.VoiceStatus(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusBadGateway, "clone_status_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cloned)
}
