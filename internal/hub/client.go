package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codewitgabi/skill-barter-sync/pkg/log"
)

// Client is one WebSocket connection. UserID is empty until the connection
// authenticates.
type Client struct {
	ID     string
	UserID string
	Hub    *Hub
	Conn   *websocket.Conn
	config Config

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient creates a client for an upgraded connection.
func NewClient(id string, h *Hub, conn *websocket.Conn, cfg Config) *Client {
	return &Client{
		ID:   id,
		Hub:  h,
		Conn: conn,
		send: make(chan []byte, 256),
		// config is shared hub-wide
		config: cfg,
	}
}

// ReadPump reads inbound frames and feeds them to handler. It exits on
// connection error and unregisters the client.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	pongWait := time.Duration(c.config.PongWait) * time.Second
	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Debug().Err(err).Str(log.FieldClientID, c.ID).Msg("websocket read error")
			}
			break
		}

		handler(c, message)
	}
}

// WritePump writes outbound frames and protocol pings until the send
// channel closes or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(time.Duration(c.config.PingInterval) * time.Second)
	writeWait := time.Duration(c.config.WriteWait) * time.Second
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
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

// SendMessage marshals and enqueues a message for this client. A saturated
// send buffer drops the frame; state-carrying messages are re-sent by the
// next snapshot. Sending to a closed client is a no-op, never a panic, so
// asynchronous emitters can race disconnect safely.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

// enqueue places raw bytes on the send channel. It reports false when the
// buffer is full or the client is already closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once. Only the hub calls this.
func (c *Client) closeSend() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}
