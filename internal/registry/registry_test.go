package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-cluster/dispatcher/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var upgrader = websocket.Upgrader{}

func TestRegistry_AcquireRejectsUnknownWorker(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	r := New(testLogger())

	_, err := r.Acquire(ctx, st, "no-such-worker", nil)
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestRegistry_SendToUnconnectedWorkerIsNoop(t *testing.T) {
	r := New(testLogger())
	assert.NotPanics(t, func() {
		r.Send("nobody", []byte(`{"action":"add_task"}`))
	})
	assert.False(t, r.Connected("nobody"))
}

func TestRegistry_AcquireSendsInitialTasksAndTracksConnection(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	r := New(testLogger())

	w, err := st.RegisterWorker(ctx, "h", "127.0.0.1", 9000, nil, 1)
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, "http://x/a", nil, 2)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(rw, req, nil)
		require.NoError(t, err)
		conn, err := r.Acquire(ctx, st, w.ID, ws)
		require.NoError(t, err)
		assert.True(t, r.Connected(w.ID))

		r.Send(w.ID, []byte(`{"action":"add_task"}`))
		_ = conn
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "initial_tasks")
}
