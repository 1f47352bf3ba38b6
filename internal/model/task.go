// Package model defines the task/worker state model shared by the
// store, scheduler, protocol and API layers.
package model

import "time"

// TaskStatus is the task state-machine position.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskQueued      TaskStatus = "queued"
	TaskDownloading TaskStatus = "downloading"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
	TaskCanceled    TaskStatus = "canceled"
)

// IsTerminal reports whether status cannot transition further except
// failed → pending via the retry controller.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	default:
		return false
	}
}

// TaskPriority is an ordinal scheduling priority, highest first.
type TaskPriority int

const (
	PriorityLow    TaskPriority = 1
	PriorityNormal TaskPriority = 2
	PriorityHigh   TaskPriority = 3
	PriorityUrgent TaskPriority = 4
)

// Task is a single URL-download job.
type Task struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Status        TaskStatus     `json:"status"`
	Priority      TaskPriority   `json:"priority"`
	WorkerID      *string        `json:"worker_id,omitempty"`
	EngineGID     *string        `json:"engine_gid,omitempty"`
	Options       map[string]any `json:"options"`
	Progress      float64        `json:"progress"`
	DownloadSpeed *float64       `json:"download_speed,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

// RetryCount reads the well-known options["retry_count"] key, default 0.
func (t *Task) RetryCount() int {
	if t.Options == nil {
		return 0
	}
	v, ok := t.Options["retry_count"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// SetRetryCount writes options["retry_count"], allocating the map if needed.
func (t *Task) SetRetryCount(n int) {
	if t.Options == nil {
		t.Options = map[string]any{}
	}
	t.Options["retry_count"] = n
}

// Tags reads the well-known options["tags"] key as a string map.
func (t *Task) Tags() map[string]string {
	if t.Options == nil {
		return nil
	}
	v, ok := t.Options["tags"]
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

// TaskCreate is the request payload for creating a task.
type TaskCreate struct {
	URL      string         `json:"url"`
	Options  map[string]any `json:"options,omitempty"`
	Priority *TaskPriority  `json:"priority,omitempty"`
}

// TaskPatch is a partial update; nil fields are left unset.
type TaskPatch struct {
	Status        *TaskStatus     `json:"status,omitempty"`
	Priority      *TaskPriority   `json:"priority,omitempty"`
	WorkerID      **string        `json:"worker_id,omitempty"`
	EngineGID     **string        `json:"engine_gid,omitempty"`
	Options       *map[string]any `json:"options,omitempty"`
	Progress      *float64        `json:"progress,omitempty"`
	DownloadSpeed **float64       `json:"download_speed,omitempty"`
	ErrorMessage  **string        `json:"error_message,omitempty"`
	Result        *map[string]any `json:"result,omitempty"`
}
