package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidgateway/internal/api/shared"
	"vidgateway/internal/domain"
	"vidgateway/internal/queue"
)

// TaskHandler serves the task endpoints.
type TaskHandler struct {
	queue  *queue.Engine
	logger *slog.Logger
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(engine *queue.Engine, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		queue:  engine,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /api/v1/tasks. The task is accepted into the
// queue and returned with 202; workers pick it up asynchronously.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.queue.Enqueue(r.Context(), queue.EnqueueParams{
		Model:          req.Model,
		Prompt:         req.Prompt,
		DurationSecs:   req.DurationSecs,
		AspectRatio:    req.AspectRatio,
		OwnerReference: shared.GetOwner(r.Context()),
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, NewTaskResponse(task))
}

// ListTasks handles GET /api/v1/tasks?status=&limit=.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	tasks, err := h.queue.List(r.Context(), status, limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, NewTaskResponse(task))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// GetTask handles GET /api/v1/tasks/{id}, including queue position and ETA
// while the task is still queued.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	view, err := h.queue.Get(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskViewResponse(view))
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	task, err := h.queue.Cancel(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(task))
}

// RetryTask handles POST /api/v1/tasks/{id}/retry.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	task, err := h.queue.Retry(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(task))
}

// GetStats handles GET /api/v1/stats.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Stats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := StatsResponse{Tasks: make(map[string]int, len(counts))}
	for status, count := range counts {
		resp.Tasks[string(status)] = count
		resp.Total += count
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// CreateGeneration handles the compatibility endpoint
// POST /v1/videos/generations with the legacy payload shape.
func (h *TaskHandler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req GenerationRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.queue.Enqueue(r.Context(), queue.EnqueueParams{
		Model:          req.Model,
		Prompt:         req.Prompt,
		DurationSecs:   req.Duration,
		AspectRatio:    req.AspectRatio,
		OwnerReference: shared.GetOwner(r.Context()),
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, NewTaskResponse(task))
}

func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}
