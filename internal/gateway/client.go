package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openclaw/openclaw/pkg/protocol"
)

const (
	writeTimeout   = 10 * time.Second
	maxFrameBytes  = 4 << 20
	pingInterval   = 30 * time.Second
	pongWaitWindow = 70 * time.Second
)

// Client is one RPC connection. The read loop dispatches requests
// sequentially, so responses preserve per-connection request ordering.
type Client struct {
	id     string
	conn   *websocket.Conn
	router *MethodRouter
	logger *slog.Logger

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func NewClient(conn *websocket.Conn, router *MethodRouter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		router: router,
		logger: logger,
		closed: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Run reads frames until the connection drops or ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWaitWindow))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWaitWindow))
	})

	go c.pingLoop(ctx)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("rpc connection closed", "client", c.id, "error", err)
			}
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != protocol.FrameTypeRequest {
			c.send(protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams, "malformed request frame"))
			continue
		}
		c.send(c.router.Dispatch(ctx, req))
	}
}

// SendEvent pushes an event frame to the client. Send failures only log;
// the read loop notices the dead connection.
func (c *Client) SendEvent(event protocol.EventFrame) {
	if err := c.send(&event); err != nil {
		c.logger.Debug("event send failed", "client", c.id, "event", event.Name, "error", err)
	}
}

func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close tears down the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
