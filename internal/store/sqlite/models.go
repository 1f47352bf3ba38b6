// Package sqlite is the durable Store backend: gorm over a pure-Go
// SQLite driver, matching the persisted schema.
package sqlite

import (
	"encoding/json"
	"time"

	"github.com/tachyon-cluster/dispatcher/internal/model"
)

// taskRow is the gorm-mapped row for the tasks table.
type taskRow struct {
	ID            string `gorm:"primaryKey"`
	URL           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Status        string
	Priority      int
	WorkerID      *string
	EngineGID     *string
	Options       string `gorm:"type:text"`
	Progress      float64
	DownloadSpeed *float64
	ErrorMessage  *string
	Result        string `gorm:"type:text"`
}

func (taskRow) TableName() string { return "tasks" }

// workerRow is the gorm-mapped row for the workers table.
type workerRow struct {
	ID               string `gorm:"primaryKey"`
	Hostname         string
	Address          string
	Port             int
	Status           string
	ConnectedAt      time.Time
	LastHeartbeat    time.Time
	Capabilities     string `gorm:"type:text"`
	CurrentTasks     string `gorm:"type:text"`
	TotalSlots       int
	UsedSlots        int
	HealthMetrics    string `gorm:"type:text"`
	ErrorHistory     string `gorm:"type:text"`
	PerformanceStats string `gorm:"type:text"`
}

func (workerRow) TableName() string { return "workers" }

func marshalMap(m map[string]any) string {
	if m == nil {
		m = map[string]any{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func unmarshalMap(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func marshalStrings(s []string) string {
	if s == nil {
		s = []string{}
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}

func marshalStruct(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func rowFromTask(t *model.Task) *taskRow {
	return &taskRow{
		ID:            t.ID,
		URL:           t.URL,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		Status:        string(t.Status),
		Priority:      int(t.Priority),
		WorkerID:      t.WorkerID,
		EngineGID:     t.EngineGID,
		Options:       marshalMap(t.Options),
		Progress:      t.Progress,
		DownloadSpeed: t.DownloadSpeed,
		ErrorMessage:  t.ErrorMessage,
		Result:        marshalMap(t.Result),
	}
}

func taskFromRow(r *taskRow) *model.Task {
	var result map[string]any
	if r.Result != "" && r.Result != "{}" {
		result = unmarshalMap(r.Result)
	}
	return &model.Task{
		ID:            r.ID,
		URL:           r.URL,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Status:        model.TaskStatus(r.Status),
		Priority:      model.TaskPriority(r.Priority),
		WorkerID:      r.WorkerID,
		EngineGID:     r.EngineGID,
		Options:       unmarshalMap(r.Options),
		Progress:      r.Progress,
		DownloadSpeed: r.DownloadSpeed,
		ErrorMessage:  r.ErrorMessage,
		Result:        result,
	}
}

func rowFromWorker(w *model.Worker) *workerRow {
	return &workerRow{
		ID:               w.ID,
		Hostname:         w.Hostname,
		Address:          w.Address,
		Port:             w.Port,
		Status:           string(w.Status),
		ConnectedAt:      w.ConnectedAt,
		LastHeartbeat:    w.LastHeartbeat,
		Capabilities:     marshalMap(w.Capabilities),
		CurrentTasks:     marshalStrings(w.CurrentTasks),
		TotalSlots:       w.TotalSlots,
		UsedSlots:        w.UsedSlots,
		HealthMetrics:    marshalStruct(w.HealthMetrics),
		ErrorHistory:     "[]",
		PerformanceStats: marshalStruct(w.PerformanceStats),
	}
}

func workerFromRow(r *workerRow) *model.Worker {
	w := &model.Worker{
		ID:            r.ID,
		Hostname:      r.Hostname,
		Address:       r.Address,
		Port:          r.Port,
		Status:        model.WorkerStatus(r.Status),
		ConnectedAt:   r.ConnectedAt,
		LastHeartbeat: r.LastHeartbeat,
		Capabilities:  unmarshalMap(r.Capabilities),
		CurrentTasks:  unmarshalStrings(r.CurrentTasks),
		TotalSlots:    r.TotalSlots,
		UsedSlots:     r.UsedSlots,
	}
	_ = json.Unmarshal([]byte(r.HealthMetrics), &w.HealthMetrics)
	_ = json.Unmarshal([]byte(r.PerformanceStats), &w.PerformanceStats)
	return w
}
