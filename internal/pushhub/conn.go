package pushhub

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeHTTP upgrades an HTTP request to a push-hub WebSocket session and
// registers it with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(uuid.NewString(), conn, h)
	h.register <- s

	go s.writePump()
	go s.readPump(h)
}

// readPump decodes inbound client messages and routes them to the hub's
// handler, replying directly on the session's own send channel.
func (s *Session) readPump(h *Hub) {
	defer func() {
		h.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(4096)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read error", "session_id", s.id, "error", err)
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.trySend(mustMarshal(errorEnvelope("invalid message")))
			continue
		}

		for _, env := range h.handleInbound(s, msg) {
			s.trySend(mustMarshal(env))
		}
	}
}

// writePump drains the session's outbound buffer onto the WebSocket
// connection, matching the teacher's coalesce-queued-writes idiom.
func (s *Session) writePump() {
	defer s.conn.Close()

	for raw := range s.send {
		w, err := s.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(raw)

		n := len(s.send)
		for i := 0; i < n; i++ {
			w.Write([]byte{'\n'})
			w.Write(<-s.send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	// send was closed by the hub: tell the peer we're done.
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func mustMarshal(env Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		return []byte(`{"type":"error","data":{"message":"internal marshal error"}}`)
	}
	return data
}
