package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tasktrack-io/tasktrack/internal/domain"
	"github.com/tasktrack-io/tasktrack/internal/postgres"
	"github.com/tasktrack-io/tasktrack/internal/tracker"
	"github.com/tasktrack-io/tasktrack/pkg/telemetry"
)

// REST handles HTTP requests for the tracker service.
type REST struct {
	tracker *tracker.Tracker
	history *postgres.Journal // optional, nil without a database
	logger  *slog.Logger
}

// NewREST creates a new REST handler. history may be nil.
func NewREST(tr *tracker.Tracker, history *postgres.Journal, logger *slog.Logger) *REST {
	return &REST{tracker: tr, history: history, logger: logger}
}

// CreateTaskRequest is the JSON body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Type         string `json:"type"`
	Priority     string `json:"priority"`
	TotalSteps   int    `json:"total_steps"`
	SessionID    string `json:"session_id"`
	MessageID    string `json:"message_id"`
	ParentTaskID string `json:"parent_task_id"`
	ToolName     string `json:"tool_name"`
}

// ActionRequest is the JSON body for POST /api/v1/tasks/{id}/actions.
type ActionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// BatchActionRequest is the JSON body for POST /api/v1/tasks/actions.
type BatchActionRequest struct {
	Action  string   `json:"action"`
	TaskIDs []string `json:"task_ids"`
}

// CreateTask handles POST /api/v1/tasks.
func (h *REST) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("tasktrack/api").Start(r.Context(), "api.create_task")
	defer span.End()

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "field 'title' or 'type' is required")
		return
	}

	task, err := h.tracker.Create(ctx, tracker.CreateRequest{
		Title:        req.Title,
		Description:  req.Description,
		Type:         domain.TaskType(req.Type),
		Priority:     domain.Priority(req.Priority),
		TotalSteps:   req.TotalSteps,
		SessionID:    req.SessionID,
		MessageID:    req.MessageID,
		ParentTaskID: req.ParentTaskID,
		ToolName:     req.ToolName,
	})
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusUnprocessableEntity, "parent task not found: "+notFound.TaskID)
			return
		}
		span.RecordError(err)
		h.logger.Error("create task failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	telemetry.APITasksCreated.WithLabelValues(string(task.Type)).Inc()

	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	ctx := r.Context()

	task, err := h.tracker.Get(ctx, taskID)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			// Pruned from the live store but possibly persisted.
			if h.history != nil {
				if task, herr := h.history.GetTask(ctx, taskID); herr == nil {
					writeJSON(w, http.StatusOK, task)
					return
				}
			}
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /api/v1/tasks.
// Query parameters: filter (all|active|completed|failed), sort
// (created|updated|priority|status), order (asc|desc), view=recent for
// the capped display view.
func (h *REST) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if q.Get("view") == "recent" {
		tasks, err := h.tracker.Recent(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		writeJSON(w, http.StatusOK, taskList(tasks))
		return
	}

	filter := tracker.Filter(q.Get("filter"))
	if filter == "" {
		filter = tracker.FilterAll
	}
	sortBy := tracker.SortBy(q.Get("sort"))
	if sortBy == "" {
		sortBy = tracker.SortCreated
	}
	order := tracker.Order(q.Get("order"))
	if order == "" {
		order = tracker.OrderAsc
	}

	tasks, err := h.tracker.Query(ctx, filter, sortBy, order)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, taskList(tasks))
}

// Counts handles GET /api/v1/tasks/counts.
func (h *REST) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.tracker.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count tasks")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// DispatchAction handles POST /api/v1/tasks/{id}/actions.
func (h *REST) DispatchAction(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("tasktrack/api").Start(r.Context(), "api.dispatch_action")
	defer span.End()

	taskID := chi.URLParam(r, "id")

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("task.action", req.Action),
	)

	task, err := h.tracker.Dispatch(ctx, tracker.Action(req.Action), taskID, req.Reason)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		var invalid *domain.InvalidTransitionError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.As(err, &invalid):
			writeError(w, http.StatusConflict, invalid.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DispatchBatch handles POST /api/v1/tasks/actions.
func (h *REST) DispatchBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.TaskIDs) == 0 {
		writeError(w, http.StatusBadRequest, "field 'task_ids' is required")
		return
	}

	results, err := h.tracker.DispatchBatch(r.Context(), tracker.Action(req.Action), req.TaskIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ClearTerminal handles DELETE /api/v1/tasks/terminal.
func (h *REST) ClearTerminal(w http.ResponseWriter, r *http.Request) {
	n, err := h.tracker.ClearTerminal(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// Journal handles GET /api/v1/journal.
func (h *REST) Journal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.tracker.Journal(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if entries == nil {
		entries = []tracker.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// History handles GET /api/v1/tasks/{id}/history from the persistent
// journal. Requires a database; 404 without one.
func (h *REST) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history not available")
		return
	}
	taskID := chi.URLParam(r, "id")
	entries, err := h.history.History(r.Context(), taskID)
	if err != nil {
		h.logger.Error("history query failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []tracker.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz. Ready means the tracker loop is serving
// commands.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.tracker.Counts(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "tracker not ready")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// taskList keeps empty results as [] instead of null.
func taskList(tasks []*domain.Task) []*domain.Task {
	if tasks == nil {
		return []*domain.Task{}
	}
	return tasks
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already gone; nothing to do but note it.
		slog.Debug("response encode failed", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
