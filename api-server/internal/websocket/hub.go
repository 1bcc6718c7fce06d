package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rshare/ride-booking-system/shared/models"
	"go.uber.org/zap"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeState        MessageType = "state"
	MessageTypeSessionEnded MessageType = "session_ended"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// ErrHubStopped is returned by Serve once the hub has shut down
var ErrHubStopped = errors.New("websocket hub stopped")

// Message represents a WebSocket message
type Message struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"sessionId"`
	State     *models.SessionState `json:"state,omitempty"`
	Message   string               `json:"message,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// Hub manages WebSocket connections per booking session
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHub creates a new Hub. allowedOrigin "*" accepts any origin.
func NewHub(logger *zap.Logger, allowedOrigin string) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		logger: logger,
	}
}

// Run starts the hub's main loop and stops when ctx is done. Run must be
// called once; after it returns, publishing never blocks.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for sessionID, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, sessionID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.sessionID] == nil {
				h.clients[client.sessionID] = make(map[*Client]bool)
			}
			h.clients[client.sessionID][client] = true
			h.logger.Debug("WebSocket client registered",
				zap.String("sessionID", client.sessionID),
				zap.Int("total", len(h.clients[client.sessionID])))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
				continue
			}

			h.mu.Lock()
			clients := h.clients[message.SessionID]
			h.logger.Debug("Broadcasting WebSocket message",
				zap.String("type", string(message.Type)),
				zap.String("sessionID", message.SessionID),
				zap.Int("clients", len(clients)))
			for client := range clients {
				select {
				case client.send <- data:
				default:
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops a client; the caller holds mu
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.sessionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.sessionID)
	}
}

// PublishState pushes a new snapshot to every client watching the session
func (h *Hub) PublishState(state *models.SessionState) {
	if state == nil {
		return
	}
	h.publish(&Message{
		Type:      MessageTypeState,
		SessionID: state.SessionID,
		State:     state,
		Timestamp: time.Now().UnixMilli(),
	})
}

// PublishSessionEnded tells clients the session is gone
func (h *Hub) PublishSessionEnded(sessionID, reason string) {
	h.publish(&Message{
		Type:      MessageTypeSessionEnded,
		SessionID: sessionID,
		Message:   reason,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) publish(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// GetClientCount returns the number of clients watching a session
func (h *Hub) GetClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Serve upgrades the request and streams the session's snapshots to it,
// starting with initial
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial *models.SessionState) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), sessionID: sessionID}
	if initial != nil {
		data, err := json.Marshal(&Message{
			Type:      MessageTypeState,
			SessionID: sessionID,
			State:     initial,
			Timestamp: time.Now().UnixMilli(),
		})
		if err == nil {
			client.send <- data
		}
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return ErrHubStopped
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// readPump only watches for the connection closing; clients act through
// the HTTP API
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket closed unexpectedly", zap.String("sessionID", c.sessionID), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
