// Package websocket fans indexing progress out to connected clients.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattmanj17/msgindex/internal/indexer"
)

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Hub manages active WebSocket connections.  Unlike the rest of the
// system it is safe for concurrent use; HTTP connections arrive on their
// own goroutines while progress comes from the indexing goroutine.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxClients int
}

// NewHub creates a Hub with a connection limit.
func NewHub(maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = 10
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxClients: maxClients,
	}
}

// Register adds a WebSocket connection.  If the limit is exceeded, the
// new connection is closed and nil is returned.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.maxClients {
		log.Printf("websocket: max connections (%d) exceeded, closing new connection", h.maxClients)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	h.clients[client] = struct{}{}
	return client
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, msg)
		client.mu.Unlock()
		if err != nil {
			log.Printf("websocket: failed to write message: %v", err)
			go h.Unregister(client)
		}
	}
}

// ActiveConnections returns the number of connected clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// IndexingProgress implements indexer.ProgressListener by broadcasting
// the snapshot as JSON.
func (h *Hub) IndexingProgress(p indexer.Progress) {
	if h.ActiveConnections() == 0 {
		return
	}
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		indexer.Progress
	}{Type: "indexing_progress", Progress: p})
	if err != nil {
		log.Printf("websocket: failed to marshal progress: %v", err)
		return
	}
	h.Broadcast(payload)
}
