package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	ws "github.com/mattmanj17/msgindex/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for progress updates.
type WebSocketHandler struct {
	hub *ws.Hub
}

// NewWebSocketHandler creates a WebSocketHandler instance.
func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// This server is expected to run behind a reverse proxy in a
		// trusted environment.
		return true
	},
}

// Handle upgrades the connection and registers it with the hub.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection: %v", err)
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		log.Printf("WebSocketHandler: connection rejected (max connections exceeded)")
		return
	}

	go h.readLoop(client)
}

// readLoop drains the connection until it closes, then unregisters.
func (h *WebSocketHandler) readLoop(client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(client)
}
