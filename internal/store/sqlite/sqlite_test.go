package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	gsqlite "github.com/glebarez/sqlite"

	"github.com/tachyon-cluster/dispatcher/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(gsqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&taskRow{}, &workerRow{}))
	return &Store{db: db}
}

func TestStore_AssignRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w, err := s.RegisterWorker(ctx, "h", "127.0.0.1", 9000, nil, 1)
	require.NoError(t, err)

	t1, err := s.CreateTask(ctx, "http://x/a", nil, model.PriorityNormal)
	require.NoError(t, err)
	t2, err := s.CreateTask(ctx, "http://x/b", nil, model.PriorityNormal)
	require.NoError(t, err)

	ok, err := s.AssignTaskToWorker(ctx, t1.ID, w.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AssignTaskToWorker(ctx, t2.ID, w.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedSlots)
	assert.Equal(t, model.WorkerBusy, got.Status)
}

func TestStore_UnassignClearsWorkerSlot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w, err := s.RegisterWorker(ctx, "h", "127.0.0.1", 9000, nil, 2)
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, "http://x/a", nil, model.PriorityNormal)
	require.NoError(t, err)

	ok, err := s.AssignTaskToWorker(ctx, task.ID, w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.UnassignTaskFromWorker(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsedSlots)
	assert.Empty(t, got.CurrentTasks)
}

func TestStore_GetTaskNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetTask(ctx, "missing")
	assert.Error(t, err)
}

func TestStore_OptionsRoundTripThroughJSON(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, "http://x/a", map[string]any{"tags": map[string]any{"gpu": "1"}}, model.PriorityHigh)
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, got.Priority)
	tags := got.Tags()
	assert.Equal(t, "1", tags["gpu"])
}
