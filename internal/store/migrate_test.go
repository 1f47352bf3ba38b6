package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-cluster/dispatcher/internal/model"
)

func TestMigrate_TransfersFullState(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryStore()

	w1, err := src.RegisterWorker(ctx, "h1", "10.0.0.1", 9000, map[string]any{"gpu": true}, 4)
	require.NoError(t, err)
	_, err = src.RegisterWorker(ctx, "h2", "10.0.0.2", 9000, nil, 2)
	require.NoError(t, err)

	busy := model.WorkerBusy
	hm := model.HealthMetrics{CPUUsage: 40, MemoryUsage: 30, DiskUsage: 20, ErrorCount: 2, SuccessCount: 8}
	ps := model.PerformanceStats{CompletedTasks: 9, FailedTasks: 1, TotalBytesDownloaded: 1024}
	usedSlots := 1
	w1, err = src.UpdateWorker(ctx, w1.ID, model.WorkerPatch{
		Status:           &busy,
		HealthMetrics:    &hm,
		PerformanceStats: &ps,
		UsedSlots:        &usedSlots,
	})
	require.NoError(t, err)

	assignedTask, err := src.CreateTask(ctx, "http://example.com/a", map[string]any{"out": "a.bin"}, model.PriorityHigh)
	require.NoError(t, err)
	ok, err := src.AssignTaskToWorker(ctx, assignedTask.ID, w1.ID)
	require.NoError(t, err)
	require.True(t, ok)

	downloading := model.TaskDownloading
	speed := 512.0
	gid := "engine-gid-1"
	assignedTask, err = src.UpdateTask(ctx, assignedTask.ID, model.TaskPatch{
		Status:        &downloading,
		Progress:      floatPtr(42.5),
		DownloadSpeed: doublePtrFloat(&speed),
		EngineGID:     doublePtrStr(&gid),
	})
	require.NoError(t, err)

	failedTask, err := src.CreateTask(ctx, "http://example.com/b", nil, model.PriorityNormal)
	require.NoError(t, err)
	failed := model.TaskFailed
	errMsg := "connection reset"
	failedTask, err = src.UpdateTask(ctx, failedTask.ID, model.TaskPatch{
		Status:       &failed,
		ErrorMessage: doublePtrStr(&errMsg),
	})
	require.NoError(t, err)

	pendingTask, err := src.CreateTask(ctx, "http://example.com/c", nil, model.PriorityLow)
	require.NoError(t, err)

	dst := NewMemoryStore()
	report, err := Migrate(ctx, src, dst)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, report.WorkersMigrated)
	assert.Equal(t, 3, report.TasksMigrated)

	dstWorkers, err := dst.GetAllWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, dstWorkers, 2)

	dstTasks, err := dst.GetAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, dstTasks, 3)

	var migratedWorker1 *model.Worker
	for _, w := range dstWorkers {
		if w.Hostname == "h1" {
			migratedWorker1 = w
		}
	}
	require.NotNil(t, migratedWorker1)
	assert.NotEqual(t, w1.ID, migratedWorker1.ID, "migrated ids are regenerated")
	assert.Equal(t, model.WorkerBusy, migratedWorker1.Status)
	assert.Equal(t, hm, migratedWorker1.HealthMetrics)
	assert.Equal(t, ps, migratedWorker1.PerformanceStats)
	// used_slots is copied as-is: 1 from the patch plus 1 from the assign.
	assert.Equal(t, 2, migratedWorker1.UsedSlots)
	assert.Len(t, migratedWorker1.CurrentTasks, 1)

	var migratedDownloading *model.Task
	for _, mt := range dstTasks {
		if mt.URL == assignedTask.URL {
			migratedDownloading = mt
		}
	}
	require.NotNil(t, migratedDownloading)
	assert.Equal(t, model.TaskDownloading, migratedDownloading.Status)
	assert.Equal(t, 42.5, migratedDownloading.Progress)
	require.NotNil(t, migratedDownloading.DownloadSpeed)
	assert.Equal(t, 512.0, *migratedDownloading.DownloadSpeed)
	require.NotNil(t, migratedDownloading.EngineGID)
	assert.Equal(t, gid, *migratedDownloading.EngineGID)
	require.NotNil(t, migratedDownloading.WorkerID)
	assert.Equal(t, migratedWorker1.ID, *migratedDownloading.WorkerID)
	assert.Equal(t, migratedWorker1.CurrentTasks[0], migratedDownloading.ID)

	var migratedFailed *model.Task
	for _, mt := range dstTasks {
		if mt.URL == failedTask.URL {
			migratedFailed = mt
		}
	}
	require.NotNil(t, migratedFailed)
	assert.Equal(t, model.TaskFailed, migratedFailed.Status)
	require.NotNil(t, migratedFailed.ErrorMessage)
	assert.Equal(t, errMsg, *migratedFailed.ErrorMessage)
	assert.Nil(t, migratedFailed.WorkerID)

	var migratedPending *model.Task
	for _, mt := range dstTasks {
		if mt.URL == pendingTask.URL {
			migratedPending = mt
		}
	}
	require.NotNil(t, migratedPending)
	assert.Equal(t, model.TaskPending, migratedPending.Status)
	assert.Nil(t, migratedPending.WorkerID)

	// Migrating back to a third store must yield task and worker sets
	// equal to the original, modulo regenerated ids.
	roundTrip := NewMemoryStore()
	report2, err := Migrate(ctx, dst, roundTrip)
	require.NoError(t, err)
	assert.Empty(t, report2.Errors)

	rtWorkers, err := roundTrip.GetAllWorkers(ctx)
	require.NoError(t, err)
	rtTasks, err := roundTrip.GetAllTasks(ctx)
	require.NoError(t, err)

	assertSameWorkerSet(t, dstWorkers, rtWorkers)
	assertSameTaskSet(t, dstTasks, rtTasks)
}

// assertSameWorkerSet compares two worker sets field-by-field, ignoring
// ids (which are regenerated on every migration) but checking that
// cross-references (current_tasks length) line up.
func assertSameWorkerSet(t *testing.T, a, b []*model.Worker) {
	t.Helper()
	require.Len(t, b, len(a))

	byHostname := make(map[string]*model.Worker, len(b))
	for _, w := range b {
		byHostname[w.Hostname] = w
	}
	for _, wa := range a {
		wb, ok := byHostname[wa.Hostname]
		require.True(t, ok, "missing worker %s after round trip", wa.Hostname)
		assert.Equal(t, wa.Status, wb.Status)
		assert.Equal(t, wa.TotalSlots, wb.TotalSlots)
		assert.Equal(t, wa.UsedSlots, wb.UsedSlots)
		assert.Equal(t, wa.HealthMetrics, wb.HealthMetrics)
		assert.Equal(t, wa.PerformanceStats, wb.PerformanceStats)
		assert.Len(t, wb.CurrentTasks, len(wa.CurrentTasks))
	}
}

func assertSameTaskSet(t *testing.T, a, b []*model.Task) {
	t.Helper()
	require.Len(t, b, len(a))

	byURL := make(map[string]*model.Task, len(b))
	for _, task := range b {
		byURL[task.URL] = task
	}
	for _, ta := range a {
		tb, ok := byURL[ta.URL]
		require.True(t, ok, "missing task %s after round trip", ta.URL)
		assert.Equal(t, ta.Status, tb.Status)
		assert.Equal(t, ta.Priority, tb.Priority)
		assert.Equal(t, ta.Progress, tb.Progress)
		assert.Equal(t, ta.DownloadSpeed, tb.DownloadSpeed)
		assert.Equal(t, ta.ErrorMessage, tb.ErrorMessage)
		assert.Equal(t, ta.EngineGID, tb.EngineGID)
		assert.Equal(t, ta.WorkerID == nil, tb.WorkerID == nil)
	}
}

func floatPtr(f float64) *float64 { return &f }
func doublePtrFloat(f *float64) **float64 { return &f }
func doublePtrStr(s *string) **string { return &s }
