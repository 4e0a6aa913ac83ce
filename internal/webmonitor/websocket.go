package webmonitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard may be served from another host on the LAN.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStatusWS pushes the JSON status payload to a WebSocket client on
// every status tick. Client messages are read and discarded so control
// frames are processed and a closed connection is noticed.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("WebSocket", "upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, eventCh := s.statusBroadcaster.Subscribe()
	defer s.statusBroadcaster.Unsubscribe(id)

	if s.metrics != nil {
		s.metrics.StatusClients.Add(1)
		defer s.metrics.StatusClients.Add(-1)
	}
	logger.Info("WebSocket", "status client connected from %s", r.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(data []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteWait)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if current, err := s.statusBroadcaster.Current(); err == nil {
		if err := write(current.JSONData); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			logger.Debug("WebSocket", "status client %s disconnected", r.RemoteAddr)
			return
		case event, ok := <-eventCh:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(s.cfg.WSWriteWait))
				return
			}
			if err := write(event.JSONData); err != nil {
				logger.Debug("WebSocket", "write failed: %v", err)
				return
			}
		}
	}
}
