package liveserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxInbound = 4 << 10
)

// ClientRequest is the only message a dashboard client sends. Subscribing
// switches the client to another watch target without reconnecting; an empty
// target subscribes to every target.
type ClientRequest struct {
	Action string `json:"action"`
	Target string `json:"target"`
}

// ActionSubscribe is the ClientRequest action that changes the target.
const ActionSubscribe = "subscribe"

// handleWebSocket upgrades an admitted request. The optional target query
// parameter selects the initial watch target.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()

	// admit already enforced the origin policy
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := NewClient(uuid.NewString(), r.URL.Query().Get("target"))
	if !s.hub.Register(client) {
		return
	}
	s.greet(client)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()
	s.hub.Unregister(client)
}

// greet queues the greeting for the client's current target.
func (s *Server) greet(client *Client) {
	s.mu.Lock()
	onConnect := s.onConnect
	s.mu.Unlock()
	if onConnect == nil {
		return
	}
	for _, msg := range onConnect(client.Target()) {
		client.Send(msg)
	}
}

// writePump forwards hub messages and keeps the connection alive with pings.
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.warn("Write error", "client_id", client.id, "error", err)
				_ = conn.Close() // unblocks the read pump
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// readPump handles pongs and subscribe requests until the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client) // closes the send channel, ending the write pump

	conn.SetReadLimit(maxInbound)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.warn("Read error", "client_id", client.id, "error", err)
			}
			return
		}

		var req ClientRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Action != ActionSubscribe {
			client.Send(NewMessage(TypeError, client.Target(), map[string]string{"error": "unsupported request"}))
			continue
		}
		if !s.hub.Subscribe(client, req.Target) {
			return
		}
		s.greet(client)
	}
}
