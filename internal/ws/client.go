package ws

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Client wraps one websocket connection with a stable identity.
type Client struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient constructs a client wrapper with a fresh UUID.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{id: uuid.New().String(), conn: conn, log: logger}
}

// ID returns the client's identity.
func (c *Client) ID() string {
	return c.id
}

// Send writes a message to the websocket connection.
func (c *Client) Send(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "clientId", c.id, "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
