package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Client is one connected viewer: the middleman between a websocket
// connection and the hub. It carries no persisted state; the handle
// exists only for the lifetime of the connection.
type Client struct {
	id     uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	logger *logger.Logger

	// mu guards closed and makes Send mutually exclusive with close,
	// so a send never races the hub closing the queue.
	mu     sync.Mutex
	closed bool
}

// NewClient creates a viewer handle with a fresh connection identity.
func NewClient(hub *Hub, conn *websocket.Conn, log *logger.Logger) *Client {
	return &Client{
		id:     uuid.New(),
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, 64),
		logger: log.WithComponent("viewer"),
	}
}

// ID returns the viewer's connection identity.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Send queues a message for this viewer only. Used for the init payload
// pushed on connect and for pong replies. Returns false if the viewer's
// queue is full or the hub has already dropped the viewer; the read
// pump keeps running for a moment after a drop, so Send must stay safe
// against the closed queue.
func (c *Client) Send(message Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// close shuts the send queue exactly once. Only the hub calls this;
// further Sends report failure instead of panicking.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump drains inbound frames, answering pings and unregistering the
// viewer when the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.ErrorWithError(err, "failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.ErrorWithError(err, "unexpected viewer close")
			}
			break
		}
		if msg.Type == MessageTypePing {
			c.Send(Message{Type: MessageTypePong})
		}
	}
}

// writePump pushes queued messages to the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.ErrorWithError(err, "failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.ErrorWithError(err, "failed to write viewer message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the viewer.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
