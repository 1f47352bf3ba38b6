package protocol

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatch_TaskUpdateUnassignsOnTerminalStatus(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	w, err := st.RegisterWorker(ctx, "h", "127.0.0.1", 9000, nil, 1)
	require.NoError(t, err)
	task, err := st.CreateTask(ctx, "http://x/a", nil, model.PriorityNormal)
	require.NoError(t, err)
	ok, err := st.AssignTaskToWorker(ctx, task.ID, w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	raw, err := json.Marshal(map[string]any{
		"action": ActionTaskUpdate,
		"task_id": task.ID,
		"status": "completed",
	})
	require.NoError(t, err)

	Dispatch(ctx, testLogger(), st, w.ID, raw)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, got.Status)
	assert.Nil(t, got.WorkerID)

	gotWorker, err := st.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotWorker.UsedSlots)
}

func TestDispatch_MalformedFrameDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	w, err := st.RegisterWorker(ctx, "h", "127.0.0.1", 9000, nil, 1)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		Dispatch(ctx, testLogger(), st, w.ID, []byte("not json"))
	})
}

func TestDispatch_HeartbeatUpdatesWorkerFields(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	w, err := st.RegisterWorker(ctx, "h", "127.0.0.1", 9000, nil, 2)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"action":     ActionHeartbeat,
		"used_slots": 1,
	})
	require.NoError(t, err)

	Dispatch(ctx, testLogger(), st, w.ID, raw)

	got, err := st.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedSlots)
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus("completed"))
	assert.True(t, IsTerminalStatus("failed"))
	assert.True(t, IsTerminalStatus("canceled"))
	assert.False(t, IsTerminalStatus("downloading"))
}
