// Package retry runs the periodic failed-task rescan: tasks that
// failed and have not exhausted their retry budget re-enter pending
// after a delay.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

const (
	defaultInterval   = 60 * time.Second
	defaultMaxRetries = 3
	defaultDelay      = 300 * time.Second
)

// Controller is the retry pump.
type Controller struct {
	st  store.Store
	log *slog.Logger

	interval   time.Duration
	maxRetries int
	delay      time.Duration
}

// New builds a Controller. maxRetries <= 0 and delay <= 0 fall back to
// the documented defaults (3, 300s). The scan interval is fixed at 60s.
func New(st store.Store, log *slog.Logger, maxRetries int, delay time.Duration) *Controller {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if delay <= 0 {
		delay = defaultDelay
	}
	return &Controller{st: st, log: log, interval: defaultInterval, maxRetries: maxRetries, delay: delay}
}

// Run ticks every 60s until ctx is canceled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tickSafely(ctx)
		}
	}
}

func (c *Controller) tickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("retry tick panicked", "panic", r)
		}
	}()
	if err := c.tick(ctx); err != nil {
		c.log.Error("retry tick failed", "error", err)
	}
}

func (c *Controller) tick(ctx context.Context) error {
	failed, err := c.st.GetTasksByStatus(ctx, model.TaskFailed)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	for _, t := range failed {
		retryCount := t.RetryCount()
		if retryCount >= c.maxRetries {
			continue
		}
		if now.Sub(t.UpdatedAt) < c.delay {
			continue
		}

		options := t.Options
		if options == nil {
			options = map[string]any{}
		} else {
			copied := make(map[string]any, len(options))
			for k, v := range options {
				copied[k] = v
			}
			options = copied
		}
		options["retry_count"] = retryCount + 1

		c.log.Info("retrying failed task", "task_id", t.ID, "attempt", retryCount+1)

		pending := model.TaskPending
		var nilStr *string
		patch := model.TaskPatch{
			Status:       &pending,
			Options:      &options,
			WorkerID:     &nilStr,
			EngineGID:    &nilStr,
			ErrorMessage: &nilStr,
		}
		if _, err := c.st.UpdateTask(ctx, t.ID, patch); err != nil {
			c.log.Error("retry re-pend failed", "task_id", t.ID, "error", err)
		}
	}
	return nil
}
