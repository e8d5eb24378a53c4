package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davekm/docvision/internal/broadcast"
)

// writeWait bounds every write to a client. A peer that stops reading fails
// its next Send within this window and gets pruned by the hub instead of
// blocking delivery to the other observers.
var writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API serves a local dashboard, cross-origin checks add nothing here
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsObserver adapts one WebSocket connection to the hub's Observer
// interface. The mutex serializes hub broadcasts with pong replies from the
// read loop; gorilla connections allow only one concurrent writer.
type wsObserver struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (o *wsObserver) Send(event broadcast.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return o.conn.WriteJSON(event)
}

func (o *wsObserver) Close() error {
	return o.conn.Close()
}

func (o *wsObserver) sendText(msg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return o.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// handleWebSocket upgrades the connection, registers it as a progress
// observer, and serves a minimal read loop: clients may send "ping" and get
// "pong" back; anything else is ignored. Disconnect unregisters the observer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	observer := &wsObserver{conn: conn}
	if err := observer.Send(broadcast.Event{
		Type:    broadcast.EventConnected,
		Message: "connected to batch progress stream",
	}); err != nil {
		_ = conn.Close()
		return
	}
	s.hub.Register(observer)
	log.Printf("WebSocket client connected (%d observers)", s.hub.ObserverCount())

	defer func() {
		s.hub.Unregister(observer)
		_ = conn.Close()
		log.Printf("WebSocket client disconnected (%d observers)", s.hub.ObserverCount())
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "ping" {
			if err := observer.sendText("pong"); err != nil {
				return
			}
		}
	}
}
