// Package store defines the persistence contract for tasks and workers,
// with memory and sqlite implementations behind the same interface.
package store

import (
	"context"
	"errors"

	"github.com/tachyon-cluster/dispatcher/internal/model"
)

// ErrNotFound is returned (or wrapped) when a lookup misses.
var ErrNotFound = errors.New("store: not found")

// ErrCapacityExceeded names the worker-at-capacity condition. Neither
// backend returns it: AssignTaskToWorker reports a full worker as
// (false, nil).
var ErrCapacityExceeded = errors.New("store: worker at capacity")

// Store is the persistence contract shared by every backend. All
// operations are safe for concurrent use; AssignTaskToWorker and
// UnassignTaskFromWorker are serializable per worker.
type Store interface {
	CreateTask(ctx context.Context, url string, options map[string]any, priority model.TaskPriority) (*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	GetAllTasks(ctx context.Context) ([]*model.Task, error)
	GetTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error)
	GetTasksByWorker(ctx context.Context, workerID string) ([]*model.Task, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) (bool, error)

	RegisterWorker(ctx context.Context, hostname, address string, port int, capabilities map[string]any, totalSlots int) (*model.Worker, error)
	GetWorker(ctx context.Context, id string) (*model.Worker, error)
	GetAllWorkers(ctx context.Context) ([]*model.Worker, error)
	GetWorkersByStatus(ctx context.Context, status model.WorkerStatus) ([]*model.Worker, error)
	GetAvailableWorkers(ctx context.Context) ([]*model.Worker, error)
	UpdateWorker(ctx context.Context, id string, patch model.WorkerPatch) (*model.Worker, error)
	UpdateWorkerHeartbeat(ctx context.Context, id string) (*model.Worker, error)
	DeleteWorker(ctx context.Context, id string) (bool, error)

	AssignTaskToWorker(ctx context.Context, taskID, workerID string) (bool, error)
	UnassignTaskFromWorker(ctx context.Context, taskID string) (bool, error)

	GetTaskCountsByStatus(ctx context.Context) (map[model.TaskStatus]int, error)
	GetWorkerCountsByStatus(ctx context.Context) (map[model.WorkerStatus]int, error)
	GetSystemLoad(ctx context.Context) (float64, error)
}

// Report summarizes a Migrate run.
type Report struct {
	WorkersMigrated int      `json:"workers_migrated"`
	TasksMigrated   int      `json:"tasks_migrated"`
	Errors          []string `json:"errors"`
}
