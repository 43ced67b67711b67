package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gitdelayed/internal/core"
)

type createOperationRequest struct {
	Time    string `json:"time"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Repo    string `json:"repo"`
}

type operationResponse struct {
	ID             string  `json:"id"`
	RepositoryPath string  `json:"repository_path"`
	Kind           string  `json:"kind"`
	Message        string  `json:"message,omitempty"`
	Branch         string  `json:"branch,omitempty"`
	DueAt          string  `json:"due_at"`
	Status         string  `json:"status"`
	Attempts       int     `json:"attempts"`
	LastError      *string `json:"last_error,omitempty"`
	NextRetryAt    *string `json:"next_retry_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type corruptResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type listOperationsResponse struct {
	Operations []operationResponse `json:"operations"`
	Corrupt    []corruptResponse   `json:"corrupt,omitempty"`
}

func (s *Server) handleCreateOperation(w http.ResponseWriter, r *http.Request) {
	var req createOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Repo = strings.TrimSpace(req.Repo)
	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "repo is required")
		return
	}

	op, err := s.service.Schedule(r.Context(), core.ScheduleRequest{
		Expr:    req.Time,
		Kind:    core.OperationKind(strings.TrimSpace(req.Kind)),
		Message: req.Message,
		Dir:     req.Repo,
	})
	switch {
	case errors.Is(err, core.ErrInvalidExpression):
		writeError(w, http.StatusBadRequest, "invalid_expression", err.Error())
		return
	case errors.Is(err, core.ErrNotARepository):
		writeError(w, http.StatusBadRequest, "not_a_repository", err.Error())
		return
	case errors.Is(err, core.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	case err != nil:
		s.logger.Error("schedule operation", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to schedule operation")
		return
	}
	s.logger.Info("operation scheduled", "op_id", op.ID, "kind", op.Kind, "due_at", op.DueAt)
	writeJSON(w, http.StatusCreated, operationToResponse(op))
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	filter := core.OperationStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if filter != "" && !filter.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown status")
		return
	}
	ops, corrupt, err := s.store.ListOperations(r.Context())
	if err != nil {
		s.logger.Error("list operations", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list operations")
		return
	}
	res := listOperationsResponse{Operations: make([]operationResponse, 0, len(ops))}
	for _, op := range ops {
		if filter != "" && op.Status != filter {
			continue
		}
		res.Operations = append(res.Operations, operationToResponse(op))
	}
	for _, rec := range corrupt {
		res.Corrupt = append(res.Corrupt, corruptResponse{ID: rec.ID, Error: rec.Err.Error()})
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opID")
	op, err := s.store.GetOperation(r.Context(), opID)
	if err != nil {
		s.writeLookupError(w, opID, err)
		return
	}
	writeJSON(w, http.StatusOK, operationToResponse(op))
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opID")
	op, err := s.service.Cancel(r.Context(), opID)
	switch {
	case errors.Is(err, core.ErrOperationExecuting):
		writeError(w, http.StatusConflict, "conflict", "operation is executing")
		return
	case errors.Is(err, core.ErrOperationFinal):
		writeError(w, http.StatusConflict, "conflict", "operation already finished")
		return
	case err != nil && op == nil:
		s.writeLookupError(w, opID, err)
		return
	case err != nil:
		s.logger.Warn("cancel recorded without history", "op_id", opID, "err", err)
	}
	writeJSON(w, http.StatusOK, operationToResponse(op))
}

func (s *Server) writeLookupError(w http.ResponseWriter, opID string, err error) {
	if errors.Is(err, core.ErrOperationNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "operation not found")
		return
	}
	var corrupt *core.CorruptRecordError
	if errors.As(err, &corrupt) {
		writeError(w, http.StatusUnprocessableEntity, "corrupt_record", err.Error())
		return
	}
	s.logger.Error("load operation", "op_id", opID, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "failed to load operation")
}

func operationToResponse(op *core.Operation) operationResponse {
	var nextRetry *string
	if op.NextRetryAt != nil {
		formatted := op.NextRetryAt.UTC().Format(time.RFC3339)
		nextRetry = &formatted
	}
	return operationResponse{
		ID:             op.ID,
		RepositoryPath: op.RepositoryPath,
		Kind:           string(op.Kind),
		Message:        op.Message,
		Branch:         op.Branch,
		DueAt:          op.DueAt.UTC().Format(time.RFC3339),
		Status:         string(op.Status),
		Attempts:       op.Attempts,
		LastError:      op.LastError,
		NextRetryAt:    nextRetry,
		CreatedAt:      op.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      op.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
