package httpapi

import (
	"net/http"
	"strings"
)

type createFaceRequest struct {
	Name        string `json:"name"`
	ImageBase64 string `json:"image_base64"`
}

// handleCreateFace uploads a photoreal avatar image to the lip-sync provider
// and returns the face id that session avatar profiles reference.
func (s *Server) handleCreateFace(w http.ResponseWriter, r *http.Request) {
	if s.faces == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "face upload not configured")
		return
	}
	var req createFaceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ImageBase64) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "image_base64 is required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "avatar"
	}

	faceID, err := s.faces.CreateFace(r.Context(), name, req.ImageBase64)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("lipsync", "face_create_failed").Inc()
		respondError(w, http.StatusBadGateway, "face_create_failed", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("face_created").Inc()
	respondJSON(w, http.StatusCreated, map[string]string{
		"face_id": faceID,
	})
}
