package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sixking/backend/internal/auth"
	"github.com/sixking/backend/internal/game"
	"github.com/sixking/backend/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is checked by middleware.WebSocketCORSCheck
	},
}

// Dispatcher is the game side of a connection.
type Dispatcher interface {
	Handle(ctx context.Context, c game.Conn, raw []byte)
	Disconnect(c game.Conn)
}

// Client represents a connected WebSocket client
type Client struct {
	id       string
	playerID string
	conn     *websocket.Conn
	send     chan []byte
	metrics  *metrics.Metrics

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, playerID string, m *metrics.Metrics) *Client {
	return &Client{
		id:       uuid.NewString(),
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		metrics:  m,
	}
}

func (c *Client) ID() string { return c.id }

// AuthenticatedPlayer is the player named by the handshake token, if any.
func (c *Client) AuthenticatedPlayer() string { return c.playerID }

// Send queues data without blocking. It reports false when the buffer is
// full or the client is gone.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.metrics.MessageDropped()
		log.Printf("[WS] send buffer full for connection %s, dropping message", c.id)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Handler upgrades HTTP requests and pumps frames to the dispatcher.
type Handler struct {
	dispatcher  Dispatcher
	jwtSecret   string
	requireAuth bool
	metrics     *metrics.Metrics
}

func NewHandler(d Dispatcher, jwtSecret string, requireAuth bool, m *metrics.Metrics) *Handler {
	return &Handler{dispatcher: d, jwtSecret: jwtSecret, requireAuth: requireAuth, metrics: m}
}

// ServeWS handles GET /api/v1/ws. A `token` query parameter binds the
// connection to the player it names.
func (h *Handler) ServeWS(c *gin.Context) {
	var playerID string
	if token := c.Query("token"); token != "" {
		pid, err := auth.ParsePlayerToken(h.jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		playerID = pid
	} else if h.requireAuth {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	client := newClient(conn, playerID, h.metrics)
	log.Printf("[WS] Connection %s opened (player=%q)", client.id, playerID)
	client.Send(game.Welcome())

	go client.writePump()
	go client.readPump(h.dispatcher)
}

// readPump feeds inbound frames to the dispatcher until the socket closes.
func (c *Client) readPump(d Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		d.Disconnect(c)
		c.close()
		c.conn.Close()
		log.Printf("[WS] Connection %s closed", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read error on connection %s: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		d.Handle(ctx, c, message)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: best-effort close frame.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error on connection %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ping error on connection %s: %v", c.id, err)
				return
			}
		}
	}
}
