// Package api provides the WebSocket handler for live report monitoring.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/vigil-app/vigil/internal/broadcast"
	"github.com/vigil-app/vigil/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the dashboard domain is fixed
		return true
	},
}

// MonitorHandlers holds dependencies for the live monitoring WebSocket.
type MonitorHandlers struct {
	broadcaster *broadcast.Broadcaster
}

// NewMonitorHandlers creates a new MonitorHandlers instance.
func NewMonitorHandlers(broadcaster *broadcast.Broadcaster) *MonitorHandlers {
	return &MonitorHandlers{broadcaster: broadcaster}
}

// Monitor handles GET /api/v1/monitor - upgrades the connection and streams
// new-report events until the client disconnects. Connections receive only
// events emitted after they join; current state is pulled over the REST API.
func (h *MonitorHandlers) Monitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade monitoring connection", "error", err)
		return
	}

	h.broadcaster.Subscribe(conn)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "monitoring client connected",
		"request_id", requestID,
		"connections", h.broadcaster.ConnectionCount(),
	)

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "monitoring client disconnected",
			"request_id", requestID,
			"connections", h.broadcaster.ConnectionCount(),
		)
	}()

	// Clients never send application messages; the read loop only detects
	// disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "monitoring connection closed unexpectedly", "error", err)
			}
			break
		}
	}
}
