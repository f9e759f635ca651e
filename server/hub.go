package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nvr-ai/go-detect/logger"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// Upgrader accepts websocket connections from any origin.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans detection events out to websocket viewers. Only Run writes to
// the connections.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Run delivers events until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("🔌 Viewer connected. Total: %d", n)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("🔌 Viewer disconnected. Total: %d", n)

		case message := <-h.broadcast:
			h.send(websocket.TextMessage, message)

		case <-ticker.C:
			h.send(websocket.PingMessage, nil)
		}
	}
}

func (h *Hub) send(kind int, message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(kind, message); err != nil {
			h.logger.Warning("Error sending to viewer: %v", err)
			delete(h.clients, client)
			client.Close()
		}
	}
}

func (h *Hub) closeAll() {
	close(h.done)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Register adds a viewer. It is a no-op once Run has returned.
func (h *Hub) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a viewer and closes its connection.
func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every viewer. Messages are dropped when the
// queue is full.
func (h *Hub) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and keeps the viewer registered until it
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	connection, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warning("WebSocket upgrade error: %v", err)
		return
	}
	connection.SetReadLimit(512)
	connection.SetReadDeadline(time.Now().Add(pongWait))
	connection.SetPongHandler(func(string) error {
		connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.Register(connection)
	defer h.Unregister(connection)

	for {
		if _, _, err := connection.ReadMessage(); err != nil {
			return
		}
	}
}
