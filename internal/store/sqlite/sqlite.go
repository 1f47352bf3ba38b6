package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

// Store is the durable backend: gorm over glebarez/sqlite (pure Go, no
// cgo). AssignTaskToWorker/UnassignTaskFromWorker run inside a gorm
// transaction. AssignTaskToWorker is additionally serialized per worker
// id so two concurrent assigns against the same worker can't both
// observe a free slot; UnassignTaskFromWorker does not take that lock.
type Store struct {
	db *gorm.DB

	workerLocks sync.Map // worker id -> *sync.Mutex
}

// Open creates any missing parent directory for path, then opens (and
// migrates) the sqlite database there.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&taskRow{}, &workerRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) lockFor(workerID string) *sync.Mutex {
	v, _ := s.workerLocks.LoadOrStore(workerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func generateID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

// CreateTask implements store.Store.
func (s *Store) CreateTask(ctx context.Context, url string, options map[string]any, priority model.TaskPriority) (*model.Task, error) {
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
	if err := s.db.WithContext(ctx).Create(rowFromTask(t)).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask implements store.Store.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var row taskRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return taskFromRow(&row), nil
}

// GetAllTasks implements store.Store.
func (s *Store) GetAllTasks(ctx context.Context) ([]*model.Task, error) {
	var rows []taskRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Task, len(rows))
	for i := range rows {
		out[i] = taskFromRow(&rows[i])
	}
	return out, nil
}

// GetTasksByStatus implements store.Store.
func (s *Store) GetTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	var rows []taskRow
	if err := s.db.WithContext(ctx).Where("status = ?", string(status)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Task, len(rows))
	for i := range rows {
		out[i] = taskFromRow(&rows[i])
	}
	return out, nil
}

// GetTasksByWorker implements store.Store.
func (s *Store) GetTasksByWorker(ctx context.Context, workerID string) ([]*model.Task, error) {
	var rows []taskRow
	if err := s.db.WithContext(ctx).Where("worker_id = ?", workerID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Task, len(rows))
	for i := range rows {
		out[i] = taskFromRow(&rows[i])
	}
	return out, nil
}

// UpdateTask implements store.Store.
func (s *Store) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (*model.Task, error) {
	var result *model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row taskRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		t := taskFromRow(&row)
		applyTaskPatch(t, patch)
		t.UpdatedAt = time.Now().UTC()
		if err := tx.Save(rowFromTask(t)).Error; err != nil {
			return err
		}
		result = t
		return nil
	})
	return result, err
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

// DeleteTask implements store.Store.
func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&taskRow{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RegisterWorker implements store.Store.
func (s *Store) RegisterWorker(ctx context.Context, hostname, address string, port int, capabilities map[string]any, totalSlots int) (*model.Worker, error) {
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
	if err := s.db.WithContext(ctx).Create(rowFromWorker(w)).Error; err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorker implements store.Store.
func (s *Store) GetWorker(ctx context.Context, id string) (*model.Worker, error) {
	var row workerRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return workerFromRow(&row), nil
}

// GetAllWorkers implements store.Store.
func (s *Store) GetAllWorkers(ctx context.Context) ([]*model.Worker, error) {
	var rows []workerRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Worker, len(rows))
	for i := range rows {
		out[i] = workerFromRow(&rows[i])
	}
	return out, nil
}

// GetWorkersByStatus implements store.Store.
func (s *Store) GetWorkersByStatus(ctx context.Context, status model.WorkerStatus) ([]*model.Worker, error) {
	var rows []workerRow
	if err := s.db.WithContext(ctx).Where("status = ?", string(status)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Worker, len(rows))
	for i := range rows {
		out[i] = workerFromRow(&rows[i])
	}
	return out, nil
}

// GetAvailableWorkers implements store.Store.
func (s *Store) GetAvailableWorkers(ctx context.Context) ([]*model.Worker, error) {
	var rows []workerRow
	if err := s.db.WithContext(ctx).
		Where("status = ? AND used_slots < total_slots", string(model.WorkerOnline)).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Worker, len(rows))
	for i := range rows {
		out[i] = workerFromRow(&rows[i])
	}
	return out, nil
}

// UpdateWorker implements store.Store.
func (s *Store) UpdateWorker(ctx context.Context, id string, patch model.WorkerPatch) (*model.Worker, error) {
	var result *model.Worker
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row workerRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		w := workerFromRow(&row)
		applyWorkerPatch(w, patch)
		if err := tx.Save(rowFromWorker(w)).Error; err != nil {
			return err
		}
		result = w
		return nil
	})
	return result, err
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

// UpdateWorkerHeartbeat implements store.Store.
func (s *Store) UpdateWorkerHeartbeat(ctx context.Context, id string) (*model.Worker, error) {
	var result *model.Worker
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row workerRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		w := workerFromRow(&row)
		w.LastHeartbeat = time.Now().UTC()
		if w.Status == model.WorkerOffline {
			w.Status = model.WorkerOnline
		}
		if err := tx.Save(rowFromWorker(w)).Error; err != nil {
			return err
		}
		result = w
		return nil
	})
	return result, err
}

// DeleteWorker implements store.Store.
func (s *Store) DeleteWorker(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&workerRow{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AssignTaskToWorker implements store.Store. The per-worker mutex plus
// the enclosing transaction makes concurrent assigns to the same
// worker serializable.
func (s *Store) AssignTaskToWorker(ctx context.Context, taskID, workerID string) (bool, error) {
	lock := s.lockFor(workerID)
	lock.Lock()
	defer lock.Unlock()

	ok := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taskRowVal taskRow
		var workerRowVal workerRow
		if err := tx.First(&taskRowVal, "id = ?", taskID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := tx.First(&workerRowVal, "id = ?", workerID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}

		w := workerFromRow(&workerRowVal)
		if w.UsedSlots >= w.TotalSlots {
			return nil
		}

		t := taskFromRow(&taskRowVal)
		now := time.Now().UTC()
		wid := workerID
		t.WorkerID = &wid
		t.Status = model.TaskQueued
		t.UpdatedAt = now

		w.CurrentTasks = append(w.CurrentTasks, taskID)
		w.UsedSlots++
		if w.UsedSlots >= w.TotalSlots {
			w.Status = model.WorkerBusy
		}

		if err := tx.Save(rowFromTask(t)).Error; err != nil {
			return err
		}
		if err := tx.Save(rowFromWorker(w)).Error; err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// UnassignTaskFromWorker implements store.Store.
func (s *Store) UnassignTaskFromWorker(ctx context.Context, taskID string) (bool, error) {
	ok := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taskRowVal taskRow
		if err := tx.First(&taskRowVal, "id = ?", taskID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		t := taskFromRow(&taskRowVal)
		if t.WorkerID == nil {
			return nil
		}
		workerID := *t.WorkerID
		now := time.Now().UTC()

		var workerRowVal workerRow
		if err := tx.First(&workerRowVal, "id = ?", workerID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				t.WorkerID = nil
				t.UpdatedAt = now
				if err := tx.Save(rowFromTask(t)).Error; err != nil {
					return err
				}
				ok = true
				return nil
			}
			return err
		}

		w := workerFromRow(&workerRowVal)
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

		if err := tx.Save(rowFromTask(t)).Error; err != nil {
			return err
		}
		if err := tx.Save(rowFromWorker(w)).Error; err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// GetTaskCountsByStatus implements store.Store.
func (s *Store) GetTaskCountsByStatus(ctx context.Context) (map[model.TaskStatus]int, error) {
	counts := map[model.TaskStatus]int{
		model.TaskPending: 0, model.TaskQueued: 0, model.TaskDownloading: 0,
		model.TaskCompleted: 0, model.TaskFailed: 0, model.TaskCanceled: 0,
	}
	var rows []struct {
		Status string
		Count  int
	}
	if err := s.db.WithContext(ctx).Model(&taskRow{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[model.TaskStatus(r.Status)] = r.Count
	}
	return counts, nil
}

// GetWorkerCountsByStatus implements store.Store.
func (s *Store) GetWorkerCountsByStatus(ctx context.Context) (map[model.WorkerStatus]int, error) {
	counts := map[model.WorkerStatus]int{
		model.WorkerOnline: 0, model.WorkerBusy: 0, model.WorkerOffline: 0, model.WorkerError: 0,
	}
	var rows []struct {
		Status string
		Count  int
	}
	if err := s.db.WithContext(ctx).Model(&workerRow{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[model.WorkerStatus(r.Status)] = r.Count
	}
	return counts, nil
}

// GetSystemLoad implements store.Store.
func (s *Store) GetSystemLoad(ctx context.Context) (float64, error) {
	var row struct {
		TotalSlots int
		UsedSlots  int
	}
	if err := s.db.WithContext(ctx).Model(&workerRow{}).
		Select("coalesce(sum(total_slots),0) as total_slots, coalesce(sum(used_slots),0) as used_slots").
		Scan(&row).Error; err != nil {
		return 0, err
	}
	if row.TotalSlots == 0 {
		return 0, nil
	}
	return 100 * float64(row.UsedSlots) / float64(row.TotalSlots), nil
}
