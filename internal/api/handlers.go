package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mkirch/taskrelay/internal/remote"
	"github.com/mkirch/taskrelay/internal/store"
	tasksync "github.com/mkirch/taskrelay/internal/sync"
	"github.com/mkirch/taskrelay/internal/task"
)

// createTaskRequest is the body for POST /api/tasks.
type createTaskRequest struct {
	Title       string `json:"title" validate:"required,max=500"`
	Description string `json:"description" validate:"max=4000"`
}

// updateTaskRequest is the body for PATCH /api/tasks/{id}. Absent fields
// are left untouched.
type updateTaskRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=500"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
	Completed   *bool   `json:"completed"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("store unavailable: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleListTasks returns visible tasks, optionally filtered by completion
// and sync status.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.ListTasksFilter{}

	if v := r.URL.Query().Get("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid completed filter %q", v))
			return
		}
		filter.Completed = &completed
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.SyncStatus = task.SyncStatus(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		filter.Limit = limit
	}

	tasks, err := s.store.ListActiveTasksContext(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleCreateTask creates a task and queues its create intent.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	t, err := s.store.CreateTaskContext(r.Context(), req.Title, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.BroadcastTaskEvent(EventTaskCreated, t)
	writeJSON(w, http.StatusCreated, t)
}

// handleGetTask returns a single visible task.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTaskContext(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleUpdateTask applies a partial update and queues its update intent.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	t, err := s.store.UpdateTaskContext(r.Context(), r.PathValue("id"), store.UpdateTaskFields{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.BroadcastTaskEvent(EventTaskUpdated, t)
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTask soft-deletes a task and queues its delete intent.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	t, err := s.store.GetTaskContext(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.DeleteTaskContext(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.BroadcastTaskEvent(EventTaskDeleted, t)
	w.WriteHeader(http.StatusNoContent)
}

// handleTriggerSync runs a synchronization pass and returns its result.
// A pass already in flight yields 409.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Sync(r.Context())
	if err != nil {
		if errors.Is(err, tasksync.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.BroadcastSyncResult(result)
	writeJSON(w, http.StatusOK, result)
}

// handleSyncStatus reports queue depth, connectivity, and last success.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSyncHistory lists completed passes, newest first. Supports
// ?limit= and ?since= (RFC 3339).
func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since timestamp %q", v))
			return
		}
		since = &at
	}

	passes, err := s.store.ListSyncPassesContext(r.Context(), since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, passes)
}

// handleApplyBatch applies a batch of intents against this instance's
// authority state. Remote taskrelay instances pointed here via
// sync.endpoint submit their queues through this endpoint.
func (s *Server) handleApplyBatch(w http.ResponseWriter, r *http.Request) {
	var req remote.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid batch request: %v", err))
		return
	}

	resp, err := s.authority.Apply(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the uniform JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
