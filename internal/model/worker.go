package model

import "time"

// WorkerStatus is the worker's connection/capacity state.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
	WorkerError   WorkerStatus = "error"
)

// HealthMetrics are point-in-time resource readings reported by a worker.
type HealthMetrics struct {
	CPUUsage     float64 `json:"cpu_usage"`
	MemoryUsage  float64 `json:"memory_usage"`
	DiskUsage    float64 `json:"disk_usage"`
	NetworkRx    float64 `json:"network_rx"`
	NetworkTx    float64 `json:"network_tx"`
	ErrorCount   int     `json:"error_count"`
	SuccessCount int     `json:"success_count"`
	UptimeSecs   float64 `json:"uptime"`
}

// PerformanceStats are cumulative download performance counters.
type PerformanceStats struct {
	AvgDownloadSpeed    float64 `json:"avg_download_speed"`
	PeakDownloadSpeed   float64 `json:"peak_download_speed"`
	TotalBytesDownloaded int64  `json:"total_bytes_downloaded"`
	CompletedTasks      int    `json:"completed_tasks"`
	FailedTasks         int    `json:"failed_tasks"`
}

// Worker is a process running a download engine that takes tasks.
type Worker struct {
	ID                string            `json:"id"`
	Hostname          string            `json:"hostname"`
	Address           string            `json:"address"`
	Port              int               `json:"port"`
	Status            WorkerStatus      `json:"status"`
	ConnectedAt       time.Time         `json:"connected_at"`
	LastHeartbeat     time.Time         `json:"last_heartbeat"`
	Capabilities      map[string]any    `json:"capabilities"`
	CurrentTasks      []string          `json:"current_tasks"`
	TotalSlots        int               `json:"total_slots"`
	UsedSlots         int               `json:"used_slots"`
	HealthMetrics     HealthMetrics     `json:"health_metrics"`
	PerformanceStats  PerformanceStats  `json:"performance_stats"`
}

// AvailableSlots is max(0, total_slots - used_slots).
func (w *Worker) AvailableSlots() int {
	if avail := w.TotalSlots - w.UsedSlots; avail > 0 {
		return avail
	}
	return 0
}

// LoadPercentage is 100*used/total, or 100 if total_slots is zero.
func (w *Worker) LoadPercentage() float64 {
	if w.TotalSlots == 0 {
		return 100
	}
	return 100 * float64(w.UsedSlots) / float64(w.TotalSlots)
}

// Tags reads the well-known capabilities["tags"] key as a string map.
func (w *Worker) Tags() map[string]string {
	if w.Capabilities == nil {
		return nil
	}
	v, ok := w.Capabilities["tags"]
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

// HealthScore is a weighted average in [0,100]: 25% each of inverted
// cpu/mem/disk usage, 25% completed-vs-failed task ratio.
func (w *Worker) HealthScore() float64 {
	hm := w.HealthMetrics
	ps := w.PerformanceStats
	cpu := clampPct(100 - hm.CPUUsage)
	mem := clampPct(100 - hm.MemoryUsage)
	disk := clampPct(100 - hm.DiskUsage)

	total := ps.CompletedTasks + ps.FailedTasks
	successRate := 100.0
	if total > 0 {
		successRate = 100 * float64(ps.CompletedTasks) / float64(total)
	}

	return 0.25*cpu + 0.25*mem + 0.25*disk + 0.25*successRate
}

// IsHealthy reports whether the worker is online or busy, its error
// count is under 10, and its HealthScore clears a 50-point bar.
func (w *Worker) IsHealthy() bool {
	if w.Status != WorkerOnline && w.Status != WorkerBusy {
		return false
	}
	if w.HealthMetrics.ErrorCount >= 10 {
		return false
	}
	return w.HealthScore() >= 50
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// WorkerCreate is the request payload for registering a worker.
type WorkerCreate struct {
	Hostname     string         `json:"hostname"`
	Address      string         `json:"address"`
	Port         int            `json:"port"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
	TotalSlots   *int           `json:"total_slots,omitempty"`
}

// WorkerPatch is a partial update; nil fields are left unset.
type WorkerPatch struct {
	Status           *WorkerStatus     `json:"status,omitempty"`
	Capabilities     *map[string]any   `json:"capabilities,omitempty"`
	CurrentTasks     *[]string         `json:"current_tasks,omitempty"`
	TotalSlots       *int              `json:"total_slots,omitempty"`
	UsedSlots        *int              `json:"used_slots,omitempty"`
	HealthMetrics    *HealthMetrics    `json:"health_metrics,omitempty"`
	PerformanceStats *PerformanceStats `json:"performance_stats,omitempty"`
	ConnectedAt      *time.Time        `json:"connected_at,omitempty"`
	LastHeartbeat    *time.Time        `json:"last_heartbeat,omitempty"`
}

// SystemStatus is the aggregate snapshot returned by GET /status.
type SystemStatus struct {
	ActiveWorkers     int                  `json:"active_workers"`
	TotalTasks        int                  `json:"total_tasks"`
	TasksByStatus     map[TaskStatus]int   `json:"tasks_by_status"`
	WorkersByStatus   map[WorkerStatus]int `json:"workers_by_status"`
	SystemLoadPercent float64              `json:"system_load_percent"`
}
