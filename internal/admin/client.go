package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/devlink-io/devlink/internal/wire"
)

// Client is the operator side of the control plane, used by the CLI and by
// tests.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the admin WebSocket at url (ws://host:port/socket) using
// the shared API key.
func Dial(ctx context.Context, url, apiKey string) (*Client, error) {
	header := http.Header{}
	header.Set(APIKeyHeader, apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("admin handshake rejected: check the api key")
		}
		return nil, fmt.Errorf("dial admin socket: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Send encodes and writes one management frame.
func (c *Client) Send(md ManagementData) error {
	data, err := wire.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode management frame: %w", err)
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// ReadResponse blocks for the next response frame.
func (c *Client) ReadResponse() (ResponseData, error) {
	var rd ResponseData

	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return rd, fmt.Errorf("read admin response: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		return rd, fmt.Errorf("unexpected message type %d", msgType)
	}

	if err := wire.Unmarshal(data, &rd); err != nil {
		return rd, fmt.Errorf("decode admin response: %w", err)
	}
	return rd, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.conn.Close()
}
