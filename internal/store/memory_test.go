package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-cluster/dispatcher/internal/model"
)

func TestMemoryStore_AssignRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

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
	assert.False(t, ok, "second assign must fail: worker at capacity")

	got, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedSlots)
	assert.Equal(t, model.WorkerBusy, got.Status)
}

func TestMemoryStore_AssignUnassignRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

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
	assert.Equal(t, model.WorkerOnline, got.Status)

	// idempotent unassign
	ok, err = s.UnassignTaskFromWorker(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_UpdateTaskBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	task, err := s.CreateTask(ctx, "http://x/a", nil, model.PriorityNormal)
	require.NoError(t, err)

	status := model.TaskDownloading
	updated, err := s.UpdateTask(ctx, task.ID, model.TaskPatch{Status: &status})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.TaskDownloading, updated.Status)
	assert.False(t, updated.UpdatedAt.Before(task.UpdatedAt))
}

func TestMemoryStore_DeleteMissingTaskReturnsFalse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ok, err := s.DeleteTask(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
