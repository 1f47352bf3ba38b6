package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tachyon-cluster/dispatcher/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWorkerWebSocket is the persistent bidirectional channel at
// /ws/worker/{worker_id}. It accepts the upgrade, hands the connection
// to the registry, and then loops reading frames until the socket
// closes.
func (s *Server) handleWorkerWebSocket(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "id")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "worker_id", workerID, "error", err)
		return
	}

	conn, err := s.reg.Acquire(r.Context(), s.st, workerID, ws)
	if err != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown worker"),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}
	defer s.reg.Release(r.Context(), s.st, workerID, conn)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			s.log.Info("worker disconnected", "worker_id", workerID, "error", err)
			return
		}
		protocol.Dispatch(r.Context(), s.log, s.st, workerID, raw)
	}
}

