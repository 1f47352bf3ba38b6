package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/protocol"
)

// TaskUpdateRequest is the wire-level PUT /tasks/{id} body: only
// present fields are applied as a partial update.
type TaskUpdateRequest struct {
	Status        *string        `json:"status,omitempty"`
	Priority      *int           `json:"priority,omitempty"`
	Progress      *float64       `json:"progress,omitempty"`
	DownloadSpeed *float64       `json:"download_speed,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

func (req TaskUpdateRequest) toPatch() model.TaskPatch {
	var patch model.TaskPatch
	if req.Status != nil {
		s := model.TaskStatus(*req.Status)
		patch.Status = &s
	}
	if req.Priority != nil {
		p := model.TaskPriority(*req.Priority)
		patch.Priority = &p
	}
	if req.Progress != nil {
		patch.Progress = req.Progress
	}
	if req.DownloadSpeed != nil {
		patch.DownloadSpeed = req.DownloadSpeed
	}
	if req.ErrorMessage != nil {
		patch.ErrorMessage = &req.ErrorMessage
	}
	if req.Options != nil {
		patch.Options = &req.Options
	}
	if req.Result != nil {
		patch.Result = &req.Result
	}
	return patch
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req model.TaskCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validateURL(req.URL) {
		writeValidationError(w, validationError("invalid URL format"))
		return
	}

	priority := model.PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}

	task, err := s.st.CreateTask(r.Context(), req.URL, req.Options, priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.st.GetAllTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.st.GetTask(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleUpdateTask applies a partial PUT. Per DESIGN.md, a manual
// requeue to status=pending does NOT reset options["retry_count"] —
// the retry controller's bookkeeping survives an operator nudge so a
// bad URL can't infinitely round-trip through manual requeues.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TaskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.st.UpdateTask(r.Context(), id, req.toPatch())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask cancels an active task on its worker before
// unassigning and deleting it.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	task, err := s.st.GetTask(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if task.WorkerID != nil {
		if task.Status == model.TaskQueued || task.Status == model.TaskDownloading {
			if s.reg.Connected(*task.WorkerID) {
				frame, err := protocol.BuildCancelTask(id)
				if err != nil {
					s.log.Error("cancel_task encode failed", "task_id", id, "error", err)
				} else {
					s.reg.Send(*task.WorkerID, frame)
				}
			}
		}
		if _, err := s.st.UnassignTaskFromWorker(ctx, id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	ok, err := s.st.DeleteTask(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "task " + id + " deleted"})
}
