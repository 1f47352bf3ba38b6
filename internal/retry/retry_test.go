package retry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failTask(t *testing.T, ctx context.Context, st store.Store, taskID string) {
	t.Helper()
	failed := model.TaskFailed
	_, err := st.UpdateTask(ctx, taskID, model.TaskPatch{Status: &failed})
	require.NoError(t, err)
}

func TestController_RetriesWithinBudget(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	task, err := st.CreateTask(ctx, "http://x/a", nil, model.PriorityNormal)
	require.NoError(t, err)
	failTask(t, ctx, st, task.ID)

	c := New(st, testLogger(), 2, 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.tick(ctx))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, got.Status)
	assert.Equal(t, 1, got.RetryCount())
	assert.Nil(t, got.WorkerID)
}

func TestController_StaysFailedAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	task, err := st.CreateTask(ctx, "http://x/a", map[string]any{"retry_count": 2}, model.PriorityNormal)
	require.NoError(t, err)
	failTask(t, ctx, st, task.ID)

	c := New(st, testLogger(), 2, 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.tick(ctx))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount())
}

func TestController_RespectsDelay(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	task, err := st.CreateTask(ctx, "http://x/a", nil, model.PriorityNormal)
	require.NoError(t, err)
	failTask(t, ctx, st, task.ID)

	c := New(st, testLogger(), 3, time.Hour)
	require.NoError(t, c.tick(ctx))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status, "retry delay has not elapsed yet")
}
