package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arbiterq/arbiterq/internal/backend"
	"github.com/arbiterq/arbiterq/internal/logger"
	"github.com/arbiterq/arbiterq/internal/task"
)

// TaskHandler handles task-related HTTP requests against a Backend.
type TaskHandler struct {
	backend backend.Backend
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(b backend.Backend) *TaskHandler {
	return &TaskHandler{backend: b}
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req task.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.JobName == "" {
		h.respondError(w, http.StatusBadRequest, "job_name is required")
		return
	}

	priority := task.PriorityFromInt(req.Priority)
	id, err := h.backend.Submit(r.Context(), req.JobName, req.Args, req.Kwargs, backend.SubmitOptions{
		ETA:      req.ETA,
		Priority: priority,
	})
	if err != nil {
		if err == task.ErrUnknownJob {
			h.respondError(w, http.StatusBadRequest, "unknown job")
			return
		}
		logger.Error().Err(err).Str("job", req.JobName).Msg("failed to submit task")
		h.respondError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	t, err := h.backend.GetTask(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "task submitted but could not be read back")
		return
	}

	logger.Info().
		Str("task_id", t.ID).
		Str("job", t.JobName).
		Str("priority", t.Priority.String()).
		Msg("task submitted")

	h.respondJSON(w, http.StatusCreated, t.ToResponse())
}

// Get handles GET /api/v1/tasks/{taskID}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.backend.GetTask(r.Context(), taskID)
	if err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	h.respondJSON(w, http.StatusOK, t.ToResponse())
}

// Cancel handles DELETE /api/v1/tasks/{taskID}. Only a task still in
// PENDING or QUEUED can be revoked.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.backend.GetTask(r.Context(), taskID)
	if err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	if t.Status != task.StatePending && t.Status != task.StateQueued {
		h.respondError(w, http.StatusConflict, "task cannot be revoked in its current state")
		return
	}

	if err := h.backend.Publish(r.Context(), taskID, task.StateRevoked, nil, nil); err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to revoke task")
		h.respondError(w, http.StatusInternalServerError, "failed to revoke task")
		return
	}

	t.Status = task.StateRevoked
	logger.Info().Str("task_id", taskID).Msg("task revoked")
	h.respondJSON(w, http.StatusOK, t.ToResponse())
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
