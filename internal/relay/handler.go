package relay

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/anirudhms/chatrelay/internal/metrics"
)

// Handler upgrades GET requests to WebSocket connections and hands them to
// the hub. Each connection gets a fresh UUID as its connection-lifetime id.
func Handler(hub *Hub, logger *slog.Logger, m *metrics.Metrics, opts ConnOptions) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origin checks are enforced by the httpserver origin middleware; for
		// direct use in tests accept all origins here.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
			return
		}

		client := newClient(uuid.NewString(), hub, ws, logger, m, opts)

		// Register before the pumps start so the welcome event is the first
		// thing queued for this connection.
		hub.Register(client)

		go client.writePump()
		go client.readPump()
	}
}
