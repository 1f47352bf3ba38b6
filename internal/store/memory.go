package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-cluster/dispatcher/internal/model"
)

// MemoryStore is a map-backed Store guarded by a single mutex. It never
// touches disk and is meant for ephemeral operation or tests.
type MemoryStore struct {
	mu      sync.Mutex
	tasks   map[string]*model.Task
	workers map[string]*model.Worker
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*model.Task),
		workers: make(map[string]*model.Worker),
	}
}

func generateID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

func cloneTask(t *model.Task) *model.Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Options != nil {
		cp.Options = make(map[string]any, len(t.Options))
		for k, v := range t.Options {
			cp.Options[k] = v
		}
	}
	if t.Result != nil {
		cp.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			cp.Result[k] = v
		}
	}
	return &cp
}

func cloneWorker(w *model.Worker) *model.Worker {
	if w == nil {
		return nil
	}
	cp := *w
	if w.Capabilities != nil {
		cp.Capabilities = make(map[string]any, len(w.Capabilities))
		for k, v := range w.Capabilities {
			cp.Capabilities[k] = v
		}
	}
	cp.CurrentTasks = append([]string(nil), w.CurrentTasks...)
	return &cp
}

// CreateTask implements Store.
func (s *MemoryStore) CreateTask(ctx context.Context, url string, options map[string]any, priority model.TaskPriority) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if options == nil {
		options = map[string]any{}
	}
	now := time.Now().UTC()
	t := &model.Task{
		ID:        generateID("task"),
		URL:       url,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    model.TaskPending,
		Priority:  priority,
		Options:   options,
	}
	s.tasks[t.ID] = t
	return cloneTask(t), nil
}

// GetTask implements Store.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

// GetAllTasks implements Store.
func (s *MemoryStore) GetAllTasks(ctx context.Context) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, cloneTask(t))
	}
	return out, nil
}

// GetTasksByStatus implements Store.
func (s *MemoryStore) GetTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

// GetTasksByWorker implements Store.
func (s *MemoryStore) GetTasksByWorker(ctx context.Context, workerID string) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Task
	for _, t := range s.tasks {
		if t.WorkerID != nil && *t.WorkerID == workerID {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

// UpdateTask implements Store.
func (s *MemoryStore) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	applyTaskPatch(t, patch)
	t.UpdatedAt = time.Now().UTC()
	return cloneTask(t), nil
}

func applyTaskPatch(t *model.Task, patch model.TaskPatch) {
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.WorkerID != nil {
		t.WorkerID = *patch.WorkerID
	}
	if patch.EngineGID != nil {
		t.EngineGID = *patch.EngineGID
	}
	if patch.Options != nil {
		t.Options = *patch.Options
	}
	if patch.Progress != nil {
		t.Progress = *patch.Progress
	}
	if patch.DownloadSpeed != nil {
		t.DownloadSpeed = *patch.DownloadSpeed
	}
	if patch.ErrorMessage != nil {
		t.ErrorMessage = *patch.ErrorMessage
	}
	if patch.Result != nil {
		t.Result = *patch.Result
	}
}

// DeleteTask implements Store.
func (s *MemoryStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return false, nil
	}
	delete(s.tasks, id)
	return true, nil
}

// RegisterWorker implements Store.
func (s *MemoryStore) RegisterWorker(ctx context.Context, hostname, address string, port int, capabilities map[string]any, totalSlots int) (*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if capabilities == nil {
		capabilities = map[string]any{}
	}
	now := time.Now().UTC()
	w := &model.Worker{
		ID:            generateID("worker"),
		Hostname:      hostname,
		Address:       address,
		Port:          port,
		Status:        model.WorkerOnline,
		ConnectedAt:   now,
		LastHeartbeat: now,
		Capabilities:  capabilities,
		CurrentTasks:  []string{},
		TotalSlots:    totalSlots,
	}
	s.workers[w.ID] = w
	return cloneWorker(w), nil
}

// GetWorker implements Store.
func (s *MemoryStore) GetWorker(ctx context.Context, id string) (*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWorker(w), nil
}

// GetAllWorkers implements Store.
func (s *MemoryStore) GetAllWorkers(ctx context.Context) ([]*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, cloneWorker(w))
	}
	return out, nil
}

// GetWorkersByStatus implements Store.
func (s *MemoryStore) GetWorkersByStatus(ctx context.Context, status model.WorkerStatus) ([]*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Worker
	for _, w := range s.workers {
		if w.Status == status {
			out = append(out, cloneWorker(w))
		}
	}
	return out, nil
}

// GetAvailableWorkers implements Store.
func (s *MemoryStore) GetAvailableWorkers(ctx context.Context) ([]*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Worker
	for _, w := range s.workers {
		if w.Status == model.WorkerOnline && w.AvailableSlots() > 0 {
			out = append(out, cloneWorker(w))
		}
	}
	return out, nil
}

// UpdateWorker implements Store.
func (s *MemoryStore) UpdateWorker(ctx context.Context, id string, patch model.WorkerPatch) (*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, nil
	}
	applyWorkerPatch(w, patch)
	return cloneWorker(w), nil
}

func applyWorkerPatch(w *model.Worker, patch model.WorkerPatch) {
	if patch.Status != nil {
		w.Status = *patch.Status
	}
	if patch.Capabilities != nil {
		w.Capabilities = *patch.Capabilities
	}
	if patch.CurrentTasks != nil {
		w.CurrentTasks = *patch.CurrentTasks
	}
	if patch.TotalSlots != nil {
		w.TotalSlots = *patch.TotalSlots
	}
	if patch.UsedSlots != nil {
		w.UsedSlots = *patch.UsedSlots
	}
	if patch.HealthMetrics != nil {
		w.HealthMetrics = *patch.HealthMetrics
	}
	if patch.PerformanceStats != nil {
		w.PerformanceStats = *patch.PerformanceStats
	}
	if patch.ConnectedAt != nil {
		w.ConnectedAt = *patch.ConnectedAt
	}
	if patch.LastHeartbeat != nil {
		w.LastHeartbeat = *patch.LastHeartbeat
	}
}

// UpdateWorkerHeartbeat implements Store.
func (s *MemoryStore) UpdateWorkerHeartbeat(ctx context.Context, id string) (*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, nil
	}
	w.LastHeartbeat = time.Now().UTC()
	if w.Status == model.WorkerOffline {
		w.Status = model.WorkerOnline
	}
	return cloneWorker(w), nil
}

// DeleteWorker implements Store.
func (s *MemoryStore) DeleteWorker(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[id]; !ok {
		return false, nil
	}
	delete(s.workers, id)
	return true, nil
}

// AssignTaskToWorker implements Store. The mutex held across both the
// task and worker mutation makes this serializable per worker.
func (s *MemoryStore) AssignTaskToWorker(ctx context.Context, taskID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, tok := s.tasks[taskID]
	w, wok := s.workers[workerID]
	if !tok || !wok {
		return false, nil
	}
	if w.UsedSlots >= w.TotalSlots {
		return false, nil
	}

	now := time.Now().UTC()
	workerIDCopy := workerID
	t.WorkerID = &workerIDCopy
	t.Status = model.TaskQueued
	t.UpdatedAt = now

	w.CurrentTasks = append(w.CurrentTasks, taskID)
	w.UsedSlots++
	if w.UsedSlots >= w.TotalSlots {
		w.Status = model.WorkerBusy
	}
	return true, nil
}

// UnassignTaskFromWorker implements Store.
func (s *MemoryStore) UnassignTaskFromWorker(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.WorkerID == nil {
		return false, nil
	}

	workerID := *t.WorkerID
	w, wok := s.workers[workerID]
	now := time.Now().UTC()
	if !wok {
		t.WorkerID = nil
		t.UpdatedAt = now
		return true, nil
	}

	t.WorkerID = nil
	t.UpdatedAt = now

	for i, id := range w.CurrentTasks {
		if id == taskID {
			w.CurrentTasks = append(w.CurrentTasks[:i], w.CurrentTasks[i+1:]...)
			break
		}
	}
	if w.UsedSlots > 0 {
		w.UsedSlots--
	}
	if w.Status == model.WorkerBusy && w.UsedSlots < w.TotalSlots {
		w.Status = model.WorkerOnline
	}
	return true, nil
}

// GetTaskCountsByStatus implements Store.
func (s *MemoryStore) GetTaskCountsByStatus(ctx context.Context) (map[model.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[model.TaskStatus]int{
		model.TaskPending: 0, model.TaskQueued: 0, model.TaskDownloading: 0,
		model.TaskCompleted: 0, model.TaskFailed: 0, model.TaskCanceled: 0,
	}
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// GetWorkerCountsByStatus implements Store.
func (s *MemoryStore) GetWorkerCountsByStatus(ctx context.Context) (map[model.WorkerStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[model.WorkerStatus]int{
		model.WorkerOnline: 0, model.WorkerBusy: 0, model.WorkerOffline: 0, model.WorkerError: 0,
	}
	for _, w := range s.workers {
		counts[w.Status]++
	}
	return counts, nil
}

// GetSystemLoad implements Store.
func (s *MemoryStore) GetSystemLoad(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var totalSlots, usedSlots int
	for _, w := range s.workers {
		totalSlots += w.TotalSlots
		usedSlots += w.UsedSlots
	}
	if totalSlots == 0 {
		return 0, nil
	}
	return 100 * float64(usedSlots) / float64(totalSlots), nil
}
