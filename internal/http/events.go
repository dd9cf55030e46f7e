package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/linkhub/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

// handleEvents upgrades to WebSocket and streams lifecycle events. Optional
// ?tenant_id= and ?session_id= narrow the stream, so a pairing UI can follow
// just its own ceremony.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	sessionID := r.URL.Query().Get("session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	subID := "ws." + uuid.NewString()
	send := make(chan []byte, wsSendBuffer)

	s.bus.Subscribe(subID, func(ev bus.Event) {
		if tenantID != "" && ev.TenantID != tenantID {
			return
		}
		if sessionID != "" && ev.SessionID != sessionID {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case send <- data:
		default:
			slog.Warn("event stream buffer full, dropping event", "subscriber", subID)
		}
	})
	defer s.bus.Unsubscribe(subID)

	go writePump(conn, send)
	readPump(conn)
}

// readPump consumes control frames until the peer goes away. The stream is
// one-directional; inbound text frames are discarded.
func readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("event stream read error", "error", err)
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
