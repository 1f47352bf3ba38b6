package store

import (
	"context"
	"fmt"

	"github.com/tachyon-cluster/dispatcher/internal/model"
)

// Migrate copies all records from src to dst, workers then tasks, per
// the persisted-schema migration order. It does not clear dst first;
// callers migrating into a fresh backend are responsible for that.
//
// Ids are regenerated by dst on create/register, so a worker's id in
// dst differs from its id in src. Migrate tracks that mapping for the
// duration of one run and rewrites every task's worker_id through it,
// and reconstructs each migrated worker's current_tasks from the
// migrated tasks rather than copying the old (now-stale) id list.
func Migrate(ctx context.Context, src, dst Store) (Report, error) {
	var report Report

	workers, err := src.GetAllWorkers(ctx)
	if err != nil {
		return report, fmt.Errorf("list workers: %w", err)
	}

	workerIDMap := make(map[string]string, len(workers))
	for _, w := range workers {
		newWorker, err := dst.RegisterWorker(ctx, w.Hostname, w.Address, w.Port, w.Capabilities, w.TotalSlots)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("worker %s: %v", w.ID, err))
			continue
		}
		workerIDMap[w.ID] = newWorker.ID
		report.WorkersMigrated++
	}

	tasks, err := src.GetAllTasks(ctx)
	if err != nil {
		return report, fmt.Errorf("list tasks: %w", err)
	}

	newCurrentTasks := make(map[string][]string, len(workerIDMap))
	for _, t := range tasks {
		newTask, err := dst.CreateTask(ctx, t.URL, t.Options, t.Priority)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("task %s: %v", t.ID, err))
			continue
		}

		patch := model.TaskPatch{
			Status:        &t.Status,
			Progress:      &t.Progress,
			DownloadSpeed: &t.DownloadSpeed,
			ErrorMessage:  &t.ErrorMessage,
		}
		if t.Result != nil {
			patch.Result = &t.Result
		}
		if t.EngineGID != nil {
			patch.EngineGID = &t.EngineGID
		}
		if t.WorkerID != nil {
			if newWorkerID, ok := workerIDMap[*t.WorkerID]; ok {
				newCurrentTasks[newWorkerID] = append(newCurrentTasks[newWorkerID], newTask.ID)
				mapped := &newWorkerID
				patch.WorkerID = &mapped
			}
		}

		if _, err := dst.UpdateTask(ctx, newTask.ID, patch); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("task %s: %v", t.ID, err))
			continue
		}
		report.TasksMigrated++
	}

	for _, w := range workers {
		newWorkerID, ok := workerIDMap[w.ID]
		if !ok {
			continue
		}
		currentTasks := newCurrentTasks[newWorkerID]
		if currentTasks == nil {
			currentTasks = []string{}
		}
		usedSlots := w.UsedSlots
		patch := model.WorkerPatch{
			Status:           &w.Status,
			CurrentTasks:     &currentTasks,
			UsedSlots:        &usedSlots,
			HealthMetrics:    &w.HealthMetrics,
			PerformanceStats: &w.PerformanceStats,
			ConnectedAt:      &w.ConnectedAt,
			LastHeartbeat:    &w.LastHeartbeat,
		}
		if _, err := dst.UpdateWorker(ctx, newWorkerID, patch); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("worker %s: %v", w.ID, err))
		}
	}

	return report, nil
}
