package liveness

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

func TestMonitor_TimesOutSilentWorker(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	w, err := st.RegisterWorker(ctx, "h", "127.0.0.1", 9000, nil, 1)
	require.NoError(t, err)
	task, err := st.CreateTask(ctx, "http://x/a", nil, model.PriorityNormal)
	require.NoError(t, err)
	ok, err := st.AssignTaskToWorker(ctx, task.ID, w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	m := New(st, testLogger(), time.Second, 1*time.Millisecond, false, 0)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.tick(ctx))

	gotWorker, err := st.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkerOffline, gotWorker.Status)

	gotTask, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, gotTask.Status)
	assert.Nil(t, gotTask.WorkerID)
}

func TestMonitor_AutoRemovesLongOfflineWorker(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	w, err := st.RegisterWorker(ctx, "h", "127.0.0.1", 9000, nil, 1)
	require.NoError(t, err)

	m := New(st, testLogger(), time.Second, 1*time.Millisecond, true, 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.tick(ctx))
	require.NoError(t, m.tick(ctx))

	_, err = st.GetWorker(ctx, w.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
