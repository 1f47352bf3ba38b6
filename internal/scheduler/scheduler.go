// Package scheduler runs the pending-task pump: it sorts pending tasks
// by priority and age, picks a worker per a configurable strategy, and
// assigns transactionally through the store.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/protocol"
	"github.com/tachyon-cluster/dispatcher/internal/registry"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

// Strategy names, configuration key task_assignment.strategy.
const (
	StrategyLeastLoaded = "least_loaded"
	StrategyRoundRobin  = "round_robin"
	StrategyRandom      = "random"
	StrategyTags        = "tags"
)

const defaultPeriod = 5 * time.Second

// Scheduler is the long-running pending-task pump.
type Scheduler struct {
	st   store.Store
	reg  *registry.Registry
	log  *slog.Logger

	strategy string
	period   time.Duration

	mu sync.Mutex // held for the duration of one tick
}

// New builds a Scheduler. strategy defaults to least_loaded if empty;
// period defaults to 5s if zero.
func New(st store.Store, reg *registry.Registry, log *slog.Logger, strategy string, period time.Duration) *Scheduler {
	if strategy == "" {
		strategy = StrategyLeastLoaded
	}
	if period <= 0 {
		period = defaultPeriod
	}
	return &Scheduler{st: st, reg: reg, log: log, strategy: strategy, period: period}
}

// Run ticks every s.period until ctx is canceled. A panic or error in
// one tick is recovered/logged so a single bad record never stops the
// pump.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickSafely(ctx)
		}
	}
}

func (s *Scheduler) tickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panicked", "panic", r)
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tick(ctx); err != nil {
		s.log.Error("scheduler tick failed", "error", err)
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	pending, err := s.st.GetTasksByStatus(ctx, model.TaskPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	candidates, err := s.st.GetAvailableWorkers(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.log.Warn("no available workers for pending tasks", "pending", len(pending))
		return nil
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	remaining := make(map[string]int, len(candidates))
	for _, w := range candidates {
		remaining[w.ID] = w.AvailableSlots()
	}

	for _, task := range pending {
		worker := s.selectWorker(task, candidates)
		if worker == nil {
			continue
		}

		ok, err := s.st.AssignTaskToWorker(ctx, task.ID, worker.ID)
		if err != nil {
			s.log.Error("assign failed", "task_id", task.ID, "worker_id", worker.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		s.log.Info("assigned task", "task_id", task.ID, "worker_id", worker.ID)

		remaining[worker.ID]--
		if remaining[worker.ID] <= 0 {
			candidates = dropWorker(candidates, worker.ID)
		}

		assigned, err := s.st.GetTask(ctx, task.ID)
		if err != nil {
			s.log.Error("post-assign task lookup failed", "task_id", task.ID, "error", err)
			continue
		}
		frame, err := protocol.BuildAddTask(assigned)
		if err != nil {
			s.log.Error("add_task encode failed", "task_id", task.ID, "error", err)
			continue
		}
		s.reg.Send(worker.ID, frame)
	}
	return nil
}

func dropWorker(candidates []*model.Worker, id string) []*model.Worker {
	out := candidates[:0]
	for _, w := range candidates {
		if w.ID != id {
			out = append(out, w)
		}
	}
	return out
}

// selectWorker implements the four assignment strategies: least_loaded,
// round_robin, random, and tags (with fallback to least_loaded).
//
// round_robin always picks the first candidate; rotation across workers
// emerges only as fuller workers drop out of the candidate list within
// a tick, not from any cursor carried between ticks.
func (s *Scheduler) selectWorker(task *model.Task, candidates []*model.Worker) *model.Worker {
	if len(candidates) == 0 {
		return nil
	}

	switch s.strategy {
	case StrategyRoundRobin:
		return candidates[0]

	case StrategyRandom:
		return candidates[rand.Intn(len(candidates))]

	case StrategyTags:
		taskTags := task.Tags()
		if len(taskTags) == 0 {
			return leastLoaded(candidates)
		}
		var matching []*model.Worker
		for _, w := range candidates {
			if tagsMatch(taskTags, w.Tags()) {
				matching = append(matching, w)
			}
		}
		if len(matching) == 0 {
			s.log.Debug("no worker matches tags, falling back to least_loaded", "task_id", task.ID)
			return leastLoaded(candidates)
		}
		return leastLoaded(matching)

	default: // least_loaded
		return leastLoaded(candidates)
	}
}

func tagsMatch(taskTags, workerTags map[string]string) bool {
	for k, v := range taskTags {
		if workerTags[k] != v {
			return false
		}
	}
	return true
}

func leastLoaded(workers []*model.Worker) *model.Worker {
	best := workers[0]
	for _, w := range workers[1:] {
		if w.LoadPercentage() < best.LoadPercentage() {
			best = w
		}
	}
	return best
}
