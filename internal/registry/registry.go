// Package registry maps connected worker ids to their live websocket
// connection and fans out frames to them. It holds only a lookup
// relation to the store — the store remains the sole owner of task and
// worker records.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tachyon-cluster/dispatcher/internal/model"
	"github.com/tachyon-cluster/dispatcher/internal/protocol"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

// ErrUnknownWorker is returned by Acquire when the worker id has no
// matching record in the store.
var ErrUnknownWorker = errors.New("registry: unknown worker")

// Conn wraps a single worker's websocket connection with its own write
// mutex; gorilla/websocket connections are not safe for concurrent
// writers.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *Conn) writeText(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Registry is the active worker↔connection map.
type Registry struct {
	log *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// New returns an empty Registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		log:   log,
		conns: make(map[string]*Conn),
	}
}

// Acquire registers ws as the live connection for workerID. It
// verifies the worker exists in st, evicting and closing any prior
// connection for the same id, marks the heartbeat, and sends the
// initial_tasks snapshot.
func (r *Registry) Acquire(ctx context.Context, st store.Store, workerID string, ws *websocket.Conn) (*Conn, error) {
	if _, err := st.GetWorker(ctx, workerID); err != nil {
		return nil, ErrUnknownWorker
	}

	conn := &Conn{ws: ws}

	r.mu.Lock()
	if old, ok := r.conns[workerID]; ok {
		old.ws.Close()
	}
	r.conns[workerID] = conn
	r.mu.Unlock()

	if _, err := st.UpdateWorkerHeartbeat(ctx, workerID); err != nil {
		r.log.Error("heartbeat on acquire failed", "worker_id", workerID, "error", err)
	}

	tasks, err := st.GetTasksByWorker(ctx, workerID)
	if err != nil {
		r.log.Error("initial tasks lookup failed", "worker_id", workerID, "error", err)
		return conn, nil
	}
	frame, err := protocol.BuildInitialTasks(tasks)
	if err != nil {
		r.log.Error("initial tasks encode failed", "worker_id", workerID, "error", err)
		return conn, nil
	}
	if err := conn.writeText(frame); err != nil {
		r.log.Warn("initial tasks send failed", "worker_id", workerID, "error", err)
	}
	return conn, nil
}

// Release removes workerID's connection if conn is still the mapped
// one (a newer connection may have already evicted it) and marks the
// worker offline.
func (r *Registry) Release(ctx context.Context, st store.Store, workerID string, conn *Conn) {
	r.mu.Lock()
	if r.conns[workerID] == conn {
		delete(r.conns, workerID)
	}
	r.mu.Unlock()

	offlineStatus := model.WorkerOffline
	if _, err := st.UpdateWorker(ctx, workerID, model.WorkerPatch{Status: &offlineStatus}); err != nil {
		r.log.Error("mark offline on release failed", "worker_id", workerID, "error", err)
	}
}

// Send pushes frame to workerID's connection. Sends to an absent or
// broken connection are no-ops, logged but never returned as an error.
func (r *Registry) Send(workerID string, frame []byte) {
	r.mu.Lock()
	conn, ok := r.conns[workerID]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("send to unconnected worker dropped", "worker_id", workerID)
		return
	}
	if err := conn.writeText(frame); err != nil {
		r.log.Warn("send failed", "worker_id", workerID, "error", err)
	}
}

// Connected reports whether workerID currently has a live connection.
func (r *Registry) Connected(workerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[workerID]
	return ok
}
