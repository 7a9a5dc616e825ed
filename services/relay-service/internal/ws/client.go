package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	// Inbound frames are discarded, but the read limit keeps a client from
	// streaming an arbitrarily large frame through readPump.
	maxMessageSize = 1024
	sendBuffer     = 16
)

var errConnClosed = errors.New("connection closed")

// Client wraps one WebSocket connection. It satisfies registry.Conn; the
// registry never touches the socket directly.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

// Send hands the payload to the write pump. It fails once the caller's
// deadline passes with the buffer still full, or when the connection has
// closed; the dispatcher treats either as a dead connection.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

// writePump owns all writes to the socket, including keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards inbound frames (delivery is one-way) and detects
// disconnects via the read deadline. onClose runs when the connection dies.
func (c *Client) readPump(onClose func()) {
	defer func() {
		onClose()
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
