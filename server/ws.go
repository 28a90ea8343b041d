package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dshills/taskrelay/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The board UI is served separately; cross-origin upgrades are fine
	// for a local single-user daemon.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsListener adapts one websocket connection to the broadcaster's
// Listener contract. Send runs only on the broadcaster loop, so no write
// lock is needed.
type wsListener struct {
	conn *websocket.Conn
}

// Send writes one enriched event as a JSON frame.
func (l *wsListener) Send(_ context.Context, msg broadcast.Message) error {
	return l.conn.WriteJSON(msg)
}

// handleWS upgrades the connection and registers it with the
// broadcaster. The read loop exists only to detect disconnects; clients
// never send meaningful frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	listener := &wsListener{conn: conn}
	s.broadcaster.Register(listener)
	s.log.Info("websocket client connected", "remote", conn.RemoteAddr().String())

	go func() {
		defer func() {
			s.broadcaster.Unregister(listener)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
