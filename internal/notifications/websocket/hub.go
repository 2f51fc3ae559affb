package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is the frame pushed to connected dashboard clients.
type Message struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Severity string         `json:"severity"`
	Data     map[string]any `json:"data,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Connection is one connected client.
type Connection struct {
	ID   string
	conn *websocket.Conn
	send chan Message
}

// Hub fans alert messages out to every connected client. A slow client's
// full buffer drops the frame rather than blocking dispatch.
type Hub struct {
	connections map[string]*Connection
	broadcast   chan Message
	register    chan *Connection
	unregister  chan *Connection
	done        chan struct{}
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewHub creates and starts the hub.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		connections: make(map[string]*Connection),
		broadcast:   make(chan Message, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	go h.run()
	return h
}

// Broadcast queues a message for every connected client without blocking.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, frame dropped")
	}
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HandleConnection upgrades an HTTP request and registers the client.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Connection{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan Message, 64),
	}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

// Stop shuts the hub down and closes every connection.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.connections[c.ID] = c
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.String("conn_id", c.ID))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[c.ID]; ok {
				delete(h.connections, c.ID)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.connections {
				select {
				case c.send <- msg:
				default:
					// client buffer full, drop frame for this client
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for id, c := range h.connections {
				close(c.send)
				c.conn.Close()
				delete(h.connections, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) writePump(c *Connection) {
	ticker := time.NewTicker(45 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *Connection) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
