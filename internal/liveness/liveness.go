// Package liveness runs the heartbeat-timeout monitor: it demotes
// silent workers to offline, returns their in-flight tasks to pending,
// and optionally garbage-collects long-offline workers.
package liveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

const (
	defaultInterval = 30 * time.Second
	defaultTimeout  = 90 * time.Second
	defaultOffline  = 300 * time.Second
)

// Monitor is the liveness pump.
type Monitor struct {
	st  store.Store
	log *slog.Logger

	interval          time.Duration
	timeout           time.Duration
	autoRemoveOffline bool
	offlineThreshold  time.Duration
}

// New builds a Monitor. Zero durations fall back to documented defaults.
func New(st store.Store, log *slog.Logger, interval, timeout time.Duration, autoRemoveOffline bool, offlineThreshold time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if offlineThreshold <= 0 {
		offlineThreshold = defaultOffline
	}
	return &Monitor{
		st:                st,
		log:               log,
		interval:          interval,
		timeout:           timeout,
		autoRemoveOffline: autoRemoveOffline,
		offlineThreshold:  offlineThreshold,
	}
}

// Run ticks every m.interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tickSafely(ctx)
		}
	}
}

func (m *Monitor) tickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("liveness tick panicked", "panic", r)
		}
	}()
	if err := m.tick(ctx); err != nil {
		m.log.Error("liveness tick failed", "error", err)
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	workers, err := m.st.GetAllWorkers(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	for _, w := range workers {
		sinceHeartbeat := now.Sub(w.LastHeartbeat)

		if w.Status != model.WorkerOffline && sinceHeartbeat > m.timeout {
			m.log.Warn("worker missed heartbeat, marking offline", "worker_id", w.ID, "since_heartbeat", sinceHeartbeat)
			offline := model.WorkerOffline
			if _, err := m.st.UpdateWorker(ctx, w.ID, model.WorkerPatch{Status: &offline}); err != nil {
				m.log.Error("mark offline failed", "worker_id", w.ID, "error", err)
				continue
			}
			w.Status = model.WorkerOffline

			for _, taskID := range w.CurrentTasks {
				if _, err := m.st.UnassignTaskFromWorker(ctx, taskID); err != nil {
					m.log.Error("unassign orphaned task failed", "task_id", taskID, "worker_id", w.ID, "error", err)
					continue
				}
				pending := model.TaskPending
				if _, err := m.st.UpdateTask(ctx, taskID, model.TaskPatch{Status: &pending}); err != nil {
					m.log.Error("re-pend orphaned task failed", "task_id", taskID, "worker_id", w.ID, "error", err)
				}
			}
		}

		if m.autoRemoveOffline && w.Status == model.WorkerOffline && sinceHeartbeat > m.offlineThreshold {
			m.log.Info("removing long-offline worker", "worker_id", w.ID, "since_heartbeat", sinceHeartbeat)
			if _, err := m.st.DeleteWorker(ctx, w.ID); err != nil {
				m.log.Error("remove offline worker failed", "worker_id", w.ID, "error", err)
			}
		}
	}
	return nil
}
