// Package ws pushes per-user notifications, such as chat list changes, to
// connected browsers over websocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"sentra/backend/pkg/events"
	"sentra/backend/pkg/jwt"
	"sentra/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send pings; anything larger is a protocol violation
	maxMessageSize = 4 * 1024

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// Message is one frame sent to or received from a client
type Message struct {
	Type    string `json:"type"`
	Content any    `json:"content,omitempty"`
}

// Client is one websocket connection of an authenticated user
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Hub    *Hub

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues a frame without blocking; a slow client loses the frame
func (c *Client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.Hub.log.LogError(err, "Failed to marshal websocket message", "type", msg.Type)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.Hub.log.Warn("Dropping notification for slow client", "client_id", c.ID, "type", msg.Type)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub tracks connected clients and subscribes each one to its own user's events
type Hub struct {
	bus        *events.Bus
	log        *logger.Logger
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.Mutex
	clients map[*Client]func()
}

// NewHub creates a hub fed by bus
func NewHub(bus *events.Bus, log *logger.Logger) *Hub {
	return &Hub{
		bus:        bus,
		log:        log.With("component", "ws_hub"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]func()),
	}
}

// Run serves registrations until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			unsubscribe := h.bus.Subscribe(client.UserID, func(ev events.Event) {
				client.enqueue(Message{Type: ev.Type, Content: ev})
			})
			h.mu.Lock()
			h.clients[client] = unsubscribe
			h.mu.Unlock()
			h.log.Info("Client registered", "client_id", client.ID, "user_id", client.UserID)

		case client := <-h.unregister:
			h.remove(client)

		case <-ctx.Done():
			h.mu.Lock()
			for client, unsubscribe := range h.clients {
				unsubscribe()
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	unsubscribe, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if ok {
		unsubscribe()
		client.close()
		h.log.Info("Client unregistered", "client_id", client.ID)
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("Websocket closed unexpectedly", "client_id", c.ID, "error", err.Error())
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(Message{Type: "error", Content: gin.H{"message": "invalid message"}})
			continue
		}
		if msg.Type == "ping" {
			c.enqueue(Message{Type: "pong"})
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs authenticates the caller and upgrades the connection. Browsers
// cannot set headers on a websocket handshake, so the token may also come
// from the token query parameter.
func ServeWs(hub *Hub, tokens *jwt.Service, c *gin.Context) {
	raw := c.Query("token")
	if raw == "" {
		var err error
		if raw, err = jwt.BearerToken(c.GetHeader("Authorization")); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthenticated", "message": "token is required"}})
			return
		}
	}
	claims, err := tokens.ValidateToken(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthenticated", "message": "Invalid or expired token"}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.LogError(err, "Websocket upgrade failed")
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		UserID: claims.UserID,
		Conn:   conn,
		Hub:    hub,
		send:   make(chan []byte, sendBuffer),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
