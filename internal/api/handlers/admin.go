package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arbiterq/arbiterq/internal/backend"
	"github.com/arbiterq/arbiterq/internal/logger"
	"github.com/arbiterq/arbiterq/internal/supervisor"
	"github.com/arbiterq/arbiterq/internal/task"
)

// AdminHandler handles the control-plane and DLQ admin surface: a thin
// HTTP binding over the Arbiter and the backend's DLQ, since RPC/HTTP
// transport encoding is not itself part of the supervision core.
type AdminHandler struct {
	arbiter *supervisor.Arbiter
	backend backend.Backend
	dlq     *backend.DLQ // nil for the local:// backend, which carries no DLQ
}

// NewAdminHandler creates a new admin handler. dlq may be nil.
func NewAdminHandler(arbiter *supervisor.Arbiter, b backend.Backend, dlq *backend.DLQ) *AdminHandler {
	return &AdminHandler{arbiter: arbiter, backend: b, dlq: dlq}
}

// Ping handles GET /admin/ping — the control-plane `ping` command.
func (h *AdminHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"result": h.arbiter.Ping(r.Context())})
}

// EchoRequest is the body for POST /admin/echo.
type EchoRequest struct {
	Message string `json:"message"`
}

// Echo handles POST /admin/echo — the control-plane `echo` command.
func (h *AdminHandler) Echo(w http.ResponseWriter, r *http.Request) {
	var req EchoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"result": h.arbiter.Echo(r.Context(), req.Message)})
}

// Info handles GET /admin/info — the control-plane `info` command.
func (h *AdminHandler) Info(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"monitors": h.arbiter.Info(r.Context()),
	})
}

// NextScheduled handles GET /admin/next_scheduled.
func (h *AdminHandler) NextScheduled(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"next_run_at": h.backend.NextRunAt(),
	})
}

// Quit handles POST /admin/quit — drains every monitor in registration
// order via its graceful-then-forced close.
func (h *AdminHandler) Quit(w http.ResponseWriter, r *http.Request) {
	ok := h.arbiter.Quit(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]bool{"result": ok})
}

// ListDLQ handles GET /admin/dlq
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		h.respondError(w, http.StatusNotImplemented, "current backend has no dead letter queue")
		return
	}

	entries, err := h.dlq.List(r.Context(), 100, "")
	if err != nil {
		logger.Error().Err(err).Msg("failed to list dlq")
		h.respondError(w, http.StatusInternalServerError, "failed to list dlq")
		return
	}

	size, _ := h.dlq.Size(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"size":    size,
	})
}

// RetryDLQRequest represents a request to retry DLQ tasks.
type RetryDLQRequest struct {
	TaskID    string `json:"task_id,omitempty"`
	RetryAll  bool   `json:"retry_all,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// RetryDLQ handles POST /admin/dlq/retry
func (h *AdminHandler) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		h.respondError(w, http.StatusNotImplemented, "current backend has no dead letter queue")
		return
	}

	var req RetryDLQRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RetryAll {
		count, err := h.dlq.RetryAll(r.Context(), h.backend)
		if err != nil {
			logger.Error().Err(err).Msg("failed to retry all dlq tasks")
			h.respondError(w, http.StatusInternalServerError, "failed to retry dlq tasks")
			return
		}
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"message":       "tasks resubmitted",
			"retried_count": count,
		})
		return
	}

	if req.TaskID == "" {
		h.respondError(w, http.StatusBadRequest, "task_id or retry_all is required")
		return
	}

	if err := h.dlq.Retry(r.Context(), h.backend, req.TaskID, req.MessageID); err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found in dlq")
			return
		}
		logger.Error().Err(err).Str("task_id", req.TaskID).Msg("failed to retry dlq task")
		h.respondError(w, http.StatusInternalServerError, "failed to retry task")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "task resubmitted",
		"task_id": req.TaskID,
	})
}

// ClearDLQ handles DELETE /admin/dlq
func (h *AdminHandler) ClearDLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		h.respondError(w, http.StatusNotImplemented, "current backend has no dead letter queue")
		return
	}
	if err := h.dlq.Clear(r.Context()); err != nil {
		logger.Error().Err(err).Msg("failed to clear dlq")
		h.respondError(w, http.StatusInternalServerError, "failed to clear dlq")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "dlq cleared"})
}

// HealthCheck handles GET /admin/health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"monitors": h.arbiter.Info(r.Context()),
	})
}

// RetryTask handles POST /admin/tasks/{taskID}/retry. Since a terminal
// task cannot transition back to a non-terminal state, retry resubmits a
// fresh task using the original job_name/args/kwargs.
func (h *AdminHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
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

	if t.Status != task.StateFailure && t.Status != task.StateRevoked {
		h.respondError(w, http.StatusConflict, "only failure or revoked tasks can be retried")
		return
	}

	newID, err := h.backend.Submit(r.Context(), t.JobName, t.Args, t.Kwargs, backend.SubmitOptions{Priority: t.Priority})
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to resubmit task")
		h.respondError(w, http.StatusInternalServerError, "failed to retry task")
		return
	}

	logger.Info().Str("task_id", taskID).Str("new_task_id", newID).Msg("task retried manually")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "task resubmitted",
		"task_id":     taskID,
		"new_task_id": newID,
	})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
