package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tachyon-cluster/dispatcher/internal/model"
)

// WorkerUpdateRequest is the wire-level PUT /workers/{id} body.
type WorkerUpdateRequest struct {
	Status           *string                 `json:"status,omitempty"`
	Capabilities     map[string]any          `json:"capabilities,omitempty"`
	TotalSlots       *int                    `json:"total_slots,omitempty"`
	UsedSlots        *int                    `json:"used_slots,omitempty"`
	HealthMetrics    *model.HealthMetrics    `json:"health_metrics,omitempty"`
	PerformanceStats *model.PerformanceStats `json:"performance_stats,omitempty"`
}

func (req WorkerUpdateRequest) toPatch() model.WorkerPatch {
	var patch model.WorkerPatch
	if req.Status != nil {
		s := model.WorkerStatus(*req.Status)
		patch.Status = &s
	}
	if req.Capabilities != nil {
		patch.Capabilities = &req.Capabilities
	}
	if req.TotalSlots != nil {
		patch.TotalSlots = req.TotalSlots
	}
	if req.UsedSlots != nil {
		patch.UsedSlots = req.UsedSlots
	}
	if req.HealthMetrics != nil {
		patch.HealthMetrics = req.HealthMetrics
	}
	if req.PerformanceStats != nil {
		patch.PerformanceStats = req.PerformanceStats
	}
	return patch
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req model.WorkerCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	totalSlots := 5
	if req.TotalSlots != nil {
		totalSlots = *req.TotalSlots
	}

	worker, err := s.st.RegisterWorker(r.Context(), req.Hostname, req.Address, req.Port, req.Capabilities, totalSlots)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.st.GetAllWorkers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, err := s.st.GetWorker(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleUpdateWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req WorkerUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	worker, err := s.st.UpdateWorker(r.Context(), id, req.toPatch())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if worker == nil {
		writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

// handleDeleteWorker unassigns all of the worker's tasks (they become
// pending) before deleting it.
func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	worker, err := s.st.GetWorker(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	for _, taskID := range worker.CurrentTasks {
		if _, err := s.st.UnassignTaskFromWorker(ctx, taskID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		pending := model.TaskPending
		if _, err := s.st.UpdateTask(ctx, taskID, model.TaskPatch{Status: &pending}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	ok, err := s.st.DeleteWorker(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusInternalServerError, "failed to delete worker")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "worker " + id + " deleted"})
}

// handleWorkerHealth exposes the derived health_score/is_healthy pair.
func (s *Server) handleWorkerHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, err := s.st.GetWorker(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"worker_id":    worker.ID,
		"health_score": worker.HealthScore(),
		"is_healthy":   worker.IsHealthy(),
	})
}
