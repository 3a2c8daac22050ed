package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/do-ops885/ai-orchestrator-hub/internal/natsbus"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one websocket connection. An empty types set receives every
// event.
type wsClient struct {
	conn  *websocket.Conn
	types map[string]bool
}

func (c *wsClient) wants(typ string) bool {
	return len(c.types) == 0 || c.types[typ]
}

type Hub struct {
	clients   map[*websocket.Conn]*wsClient
	broadcast chan natsbus.Message
	mu        sync.Mutex
}

func NewHub(buffer int) *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]*wsClient),
		broadcast: make(chan natsbus.Message, buffer),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-h.broadcast:
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for conn, c := range h.clients {
				if !c.wants(string(m.Type)) {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Broadcast(m natsbus.Message) {
	select {
	case h.broadcast <- m:
	default:
		slog.Warn("websocket broadcast channel full, dropping event", "type", string(m.Type))
	}
}

func (h *Hub) Register(conn *websocket.Conn, types []string) {
	c := &wsClient{conn: conn}
	if len(types) > 0 {
		c.types = make(map[string]bool, len(types))
		for _, t := range types {
			c.types[t] = true
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = c
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// handleWebSocket streams events to the client. ?types=a,b limits the
// stream to the listed event types.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var types []string
	if v := r.URL.Query().Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn, types)
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Reads only detect the close; clients do not send commands.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
