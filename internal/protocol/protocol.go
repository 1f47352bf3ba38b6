// Package protocol defines the frame schema exchanged between the
// dispatcher and a worker over the persistent bidirectional channel,
// and applies worker→dispatcher frames to the store.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

// Action discriminators carried in the "action" field of every frame.
const (
	ActionHeartbeat    = "heartbeat"
	ActionTaskUpdate   = "task_update"
	ActionWorkerUpdate = "worker_update"

	ActionInitialTasks = "initial_tasks"
	ActionAddTask      = "add_task"
	ActionCancelTask   = "cancel_task"
	ActionPauseTask    = "pause_task"
	ActionResumeTask   = "resume_task"
)

// Inbound is the superset of fields carried by worker→dispatcher
// frames. Unset fields are simply absent from the wire JSON.
type Inbound struct {
	Action string `json:"action"`

	// heartbeat / worker_update
	Status           *string                 `json:"status,omitempty"`
	UsedSlots        *int                    `json:"used_slots,omitempty"`
	TotalSlots       *int                    `json:"total_slots,omitempty"`
	Capabilities     map[string]any          `json:"capabilities,omitempty"`
	HealthMetrics    *model.HealthMetrics    `json:"health_metrics,omitempty"`
	PerformanceStats *model.PerformanceStats `json:"performance_stats,omitempty"`

	// task_update
	TaskID        string         `json:"task_id,omitempty"`
	Progress      *float64       `json:"progress,omitempty"`
	DownloadSpeed *float64       `json:"download_speed,omitempty"`
	EngineGID     *string        `json:"aria2_gid,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

// Outbound is the superset of fields carried by dispatcher→worker
// frames.
type Outbound struct {
	Action string       `json:"action"`
	Tasks  []*model.Task `json:"tasks,omitempty"`
	Task   *model.Task   `json:"task,omitempty"`
	TaskID string        `json:"task_id,omitempty"`
}

// IsTerminalStatus reports whether the wire status string names a
// terminal task status (completed, failed, canceled).
func IsTerminalStatus(status string) bool {
	return model.TaskStatus(status).IsTerminal()
}

// BuildInitialTasks marshals the initial_tasks frame sent once per
// connection right after accept.
func BuildInitialTasks(tasks []*model.Task) ([]byte, error) {
	return json.Marshal(Outbound{Action: ActionInitialTasks, Tasks: tasks})
}

// BuildAddTask marshals the add_task frame the scheduler pushes when
// it assigns a task to this worker's connection.
func BuildAddTask(t *model.Task) ([]byte, error) {
	return json.Marshal(Outbound{Action: ActionAddTask, Task: t})
}

// BuildCancelTask marshals a cancel_task frame.
func BuildCancelTask(taskID string) ([]byte, error) {
	return json.Marshal(Outbound{Action: ActionCancelTask, TaskID: taskID})
}

// BuildPauseTask marshals a pause_task frame.
func BuildPauseTask(taskID string) ([]byte, error) {
	return json.Marshal(Outbound{Action: ActionPauseTask, TaskID: taskID})
}

// BuildResumeTask marshals a resume_task frame.
func BuildResumeTask(taskID string) ([]byte, error) {
	return json.Marshal(Outbound{Action: ActionResumeTask, TaskID: taskID})
}

// Dispatch applies one worker→dispatcher frame to st. Malformed JSON
// and unknown actions are logged and dropped; the connection is never
// closed because of it.
func Dispatch(ctx context.Context, log *slog.Logger, st store.Store, workerID string, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Warn("malformed frame", "worker_id", workerID, "error", err)
		return
	}

	switch in.Action {
	case ActionHeartbeat:
		handleHeartbeat(ctx, log, st, workerID, in)
	case ActionTaskUpdate:
		handleTaskUpdate(ctx, log, st, workerID, in)
	case ActionWorkerUpdate:
		handleWorkerUpdate(ctx, log, st, workerID, in)
	default:
		log.Warn("unknown frame action", "worker_id", workerID, "action", in.Action)
	}
}

func handleHeartbeat(ctx context.Context, log *slog.Logger, st store.Store, workerID string, in Inbound) {
	if _, err := st.UpdateWorkerHeartbeat(ctx, workerID); err != nil {
		log.Error("heartbeat update failed", "worker_id", workerID, "error", err)
		return
	}

	patch := model.WorkerPatch{}
	dirty := false
	if in.Status != nil {
		s := model.WorkerStatus(*in.Status)
		patch.Status = &s
		dirty = true
	}
	if in.UsedSlots != nil {
		patch.UsedSlots = in.UsedSlots
		dirty = true
	}
	if in.HealthMetrics != nil {
		patch.HealthMetrics = in.HealthMetrics
		dirty = true
	}
	if in.PerformanceStats != nil {
		patch.PerformanceStats = in.PerformanceStats
		dirty = true
	}
	if !dirty {
		return
	}
	if _, err := st.UpdateWorker(ctx, workerID, patch); err != nil {
		log.Error("heartbeat field update failed", "worker_id", workerID, "error", err)
	}
}

func handleTaskUpdate(ctx context.Context, log *slog.Logger, st store.Store, workerID string, in Inbound) {
	if in.TaskID == "" {
		log.Error("task_update missing task_id", "worker_id", workerID)
		return
	}

	task, err := st.GetTask(ctx, in.TaskID)
	if err != nil {
		log.Error("unknown task in task_update", "worker_id", workerID, "task_id", in.TaskID, "error", err)
		return
	}

	patch := model.TaskPatch{}
	if in.Status != nil {
		s := model.TaskStatus(*in.Status)
		patch.Status = &s
	}
	if in.Progress != nil {
		patch.Progress = in.Progress
	}
	if in.DownloadSpeed != nil {
		patch.DownloadSpeed = in.DownloadSpeed
	}
	if in.EngineGID != nil {
		patch.EngineGID = &in.EngineGID
	}
	if in.ErrorMessage != nil {
		patch.ErrorMessage = &in.ErrorMessage
	}
	if in.Result != nil {
		patch.Result = &in.Result
	}

	if _, err := st.UpdateTask(ctx, task.ID, patch); err != nil {
		log.Error("task_update apply failed", "worker_id", workerID, "task_id", task.ID, "error", err)
		return
	}

	if in.Status != nil && IsTerminalStatus(*in.Status) {
		if _, err := st.UnassignTaskFromWorker(ctx, task.ID); err != nil {
			log.Error("unassign after terminal task_update failed", "worker_id", workerID, "task_id", task.ID, "error", err)
		}
	}
}

func handleWorkerUpdate(ctx context.Context, log *slog.Logger, st store.Store, workerID string, in Inbound) {
	patch := model.WorkerPatch{}
	dirty := false
	if in.Capabilities != nil {
		patch.Capabilities = &in.Capabilities
		dirty = true
	}
	if in.TotalSlots != nil {
		patch.TotalSlots = in.TotalSlots
		dirty = true
	}
	if in.UsedSlots != nil {
		patch.UsedSlots = in.UsedSlots
		dirty = true
	}
	if !dirty {
		return
	}
	if _, err := st.UpdateWorker(ctx, workerID, patch); err != nil {
		log.Error("worker_update apply failed", "worker_id", workerID, "error", err)
	}
}
