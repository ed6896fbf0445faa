package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS middleware
	},
}

// Hub maintains the set of connected event-stream clients and fans
// engine events out to them. Delivery is best effort: a full broadcast
// queue drops the event rather than stalling the component that
// emitted it.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// A blocked client must not hang the hub.
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[Stream] Write failed, dropping client: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades the request and registers the client for the
// event feed.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Stream] Failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()

	log.Printf("[Stream] Client connected (%d total)", total)

	// The feed is push-only, but reads must continue so disconnects
	// are noticed.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			remaining := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("[Stream] Client disconnected (%d remaining)", remaining)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[Stream] Read error: %v", err)
				}
				return
			}
		}
	}()
}

// Broadcast queues data for delivery to every connected client.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
	}
}

// BroadcastEvent adapts the hub to the notify callback the registry,
// worker pool and round coordinator emit through.
func BroadcastEvent(hub *Hub) func(event string, payload map[string]any) {
	return func(event string, payload map[string]any) {
		msg, err := json.Marshal(gin.H{
			"type":      event,
			"data":      payload,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			log.Printf("[Stream] Failed to encode %s event: %v", event, err)
			return
		}
		hub.Broadcast(msg)
	}
}
