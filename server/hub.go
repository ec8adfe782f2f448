package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans saved scans out to every connected WebSocket client.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	log        logrus.FieldLogger
}

// NewHub creates a hub; Run must be started before clients connect.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves register, unregister and broadcast requests until ctx is cancelled, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mutex.Lock()
		for client := range h.clients {
			client.Close()
			delete(h.clients, client)
		}
		h.mutex.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.WithField("clients", total).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.WithField("clients", total).Info("Client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.WithError(err).Warn("Error sending message")
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every connected client. It is a no-op once the hub has stopped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and keeps the client registered until it disconnects.
func (h *Hub) ServeWS(c *gin.Context) {
	connection, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	h.Register(connection)
	defer h.Unregister(connection)

	for {
		if _, _, err := connection.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Client disconnected normally")
			} else {
				h.log.WithError(err).Debug("Client disconnected with error")
			}
			return
		}
	}
}
