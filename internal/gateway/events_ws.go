package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket keepalive timing.
const (
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 10 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// handleEventsWebSocket upgrades the connection and streams polling events
// until the client disconnects. An optional ?event= query parameter narrows
// the stream to one event name.
func (s *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	filter := r.URL.Query().Get("event")
	events, cancel := s.scheduler.Bus().Subscribe(filter)
	defer cancel()

	s.logger.Debug("Event stream connected",
		slog.String("remote", r.RemoteAddr),
		slog.String("filter", filter),
	)

	// Read pump: detect disconnect and answer pings.
	disconnected := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
		return nil
	})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-disconnected:
			return
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				// Bus closed; the scheduler is shutting down.
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("Event stream write failed", slog.Any("error", err))
				return
			}
		}
	}
}
