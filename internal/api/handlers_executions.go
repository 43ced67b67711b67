package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gitdelayed/internal/core"
)

type executionResponse struct {
	ID          int64   `json:"id"`
	OperationID string  `json:"operation_id"`
	Attempt     int     `json:"attempt"`
	Outcome     string  `json:"outcome"`
	Output      string  `json:"output,omitempty"`
	Error       *string `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	EndedAt     string  `json:"ended_at"`
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opID")
	if _, err := s.store.GetOperation(r.Context(), opID); err != nil {
		s.writeLookupError(w, opID, err)
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	execs, err := s.store.ListExecutions(r.Context(), opID, limit)
	if err != nil {
		s.logger.Error("list executions", "op_id", opID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list executions")
		return
	}
	resp := make([]executionResponse, 0, len(execs))
	for _, e := range execs {
		resp = append(resp, executionToResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func executionToResponse(e *core.Execution) executionResponse {
	return executionResponse{
		ID:          e.ID,
		OperationID: e.OperationID,
		Attempt:     e.Attempt,
		Outcome:     string(e.Outcome),
		Output:      e.Output,
		Error:       e.Error,
		StartedAt:   e.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:     e.EndedAt.UTC().Format(time.RFC3339),
	}
}
