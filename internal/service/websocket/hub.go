// Package websocket fans per-frame progress out to the viewers of each user.
package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"roaddamage/internal/logger"
)

type registration struct {
	conn     *websocket.Conn
	username string
}

type message struct {
	payload  []byte
	username string
}

// HubService tracks viewer connections and delivers each message to the viewers of one user.
type HubService struct {
	clients    map[*websocket.Conn]string
	broadcast  chan message
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan message, 64),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes every connection.
// Run must be called once.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case r := <-h.register:
			h.mutex.Lock()
			h.clients[r.conn] = r.username
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer for %q connected. Total: %d", r.username, total)

		case client := <-h.unregister:
			h.mutex.Lock()
			username, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			if ok {
				h.logger.Info("Viewer for %q disconnected. Total: %d", username, total)
			}

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for client, username := range h.clients {
				if username != msg.username {
					continue
				}
				if err := client.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
					h.logger.Error("Error sending message to %q: %v", username, err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register binds conn to username. It waits for Run to pick the connection up; once
// Run has returned the connection is closed instead.
func (h *HubService) Register(conn *websocket.Conn, username string) {
	select {
	case h.register <- registration{conn: conn, username: username}:
	case <-h.done:
		conn.Close()
	}
}

// Unregister drops conn. After Run has returned it is a no-op, Run closed conn already.
func (h *HubService) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues payload for the viewers of username. It never blocks: when the
// queue is full the message is dropped and false is returned.
func (h *HubService) Broadcast(payload []byte, username string) bool {
	select {
	case h.broadcast <- message{payload: payload, username: username}:
		return true
	default:
		h.logger.Warning("Viewer queue full, dropping message for %q", username)
		return false
	}
}

// ViewerCount returns how many viewers are connected for username.
func (h *HubService) ViewerCount(username string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, u := range h.clients {
		if u == username {
			count++
		}
	}
	return count
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
