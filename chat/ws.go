package chat

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360studio/steward/store"
)

// clientQueue bounds each subscriber's outbound buffer; a full queue drops
// the oldest message rather than blocking the broadcaster.
const clientQueue = 64

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is agent-local; cross-origin browsers are not a concern.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsClient struct {
	conn    *websocket.Conn
	channel string
	send    chan *store.ChatMessage
	dropped int
}

// Hub fans chat messages out to websocket subscribers.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*wsClient]bool), logger: logger}
}

// Broadcast queues a message for every subscriber whose channel filter
// matches. Slow subscribers lose their oldest queued message.
func (h *Hub) Broadcast(m *store.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.channel != "" && c.channel != m.Channel {
			continue
		}
		select {
		case c.send <- m:
		default:
			select {
			case <-c.send:
				c.dropped++
			default:
			}
			select {
			case c.send <- m:
			default:
			}
		}
	}
}

// ServeWS upgrades the request and streams matching messages until the
// peer disconnects. The channel query parameter filters; empty means all.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{
		conn:    conn,
		channel: r.URL.Query().Get("channel"),
		send:    make(chan *store.ChatMessage, clientQueue),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *Hub) readLoop(c *wsClient) {
	defer h.drop(c)
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Inbound frames are ignored; posting goes through the HTTP API.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
	if c.dropped > 0 {
		h.logger.Debug("Websocket subscriber dropped messages", "dropped", c.dropped)
	}
}
