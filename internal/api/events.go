package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader for the events feed. The API is platform-internal, so
// cross-origin subscribers are allowed.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents upgrades the connection to a websocket and forwards bus
// events as JSON until the client disconnects. Slow clients miss
// events at the bus and are closed when a write stalls past its
// deadline.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	s.logger.Debug("events subscriber connected", "remote", r.RemoteAddr)
	defer s.logger.Debug("events subscriber disconnected", "remote", r.RemoteAddr)

	// Reader loop: discard inbound frames, detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e := <-ch:
			if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("events subscriber write failed", "error", err)
				return
			}
		}
	}
}
