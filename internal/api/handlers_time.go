package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type timePreviewRequest struct {
	Time string `json:"time"`
}

type timePreviewResponse struct {
	Valid    bool   `json:"valid"`
	DueAt    string `json:"due_at,omitempty"`
	Local    string `json:"local,omitempty"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) handleTimePreview(w http.ResponseWriter, r *http.Request) {
	var req timePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, timePreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}
	if strings.TrimSpace(req.Time) == "" {
		writeJSON(w, http.StatusBadRequest, timePreviewResponse{Valid: false, Message: "time expression is required"})
		return
	}
	due, err := s.service.Preview(req.Time)
	if err != nil {
		writeJSON(w, http.StatusOK, timePreviewResponse{Valid: false, Message: err.Error()})
		return
	}
	loc := s.service.Location()
	writeJSON(w, http.StatusOK, timePreviewResponse{
		Valid:    true,
		DueAt:    due.UTC().Format(time.RFC3339),
		Local:    due.In(loc).Format("2006-01-02 15:04:05"),
		Location: loc.String(),
	})
}
