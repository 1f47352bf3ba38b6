package api

import "net/http"

// handleStatus serves both /status and /api/status with the same
// SystemStatus snapshot for backward-compatible clients.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	online, err := s.st.GetWorkersByStatus(ctx, "online")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	busy, err := s.st.GetWorkersByStatus(ctx, "busy")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tasks, err := s.st.GetAllTasks(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tasksByStatus, err := s.st.GetTaskCountsByStatus(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	workersByStatus, err := s.st.GetWorkerCountsByStatus(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	load, err := s.st.GetSystemLoad(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_workers":      len(online) + len(busy),
		"total_tasks":         len(tasks),
		"tasks_by_status":     tasksByStatus,
		"workers_by_status":   workersByStatus,
		"system_load_percent": load,
	})
}
