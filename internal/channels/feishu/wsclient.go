package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	wsReadLimit    = 1 << 20
	wsPingInterval = 30 * time.Second
	wsBackoffMax   = 60 * time.Second
)

// wsFrame is the JSON frame of the Lark event stream.
type wsFrame struct {
	Type    string          `json:"type"` // event | ping | pong
	Payload json.RawMessage `json:"payload"`
}

// WSClient maintains the Lark event-stream connection with reconnect and
// backoff. One client per account; the supervisor owns its lifetime.
type WSClient struct {
	client  *Client
	logger  *slog.Logger
	onEvent func(envelope *Envelope)
	onState func(connected bool, reason string)

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSClient creates an event-stream client. onEvent runs off the receive
// path; onState reports connection transitions for status patches.
func NewWSClient(client *Client, logger *slog.Logger, onEvent func(*Envelope), onState func(bool, string)) *WSClient {
	return &WSClient{client: client, logger: logger, onEvent: onEvent, onState: onState}
}

// Run connects and reads events until ctx is cancelled, reconnecting with
// exponential backoff on failure.
func (w *WSClient) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.onState(false, closeReason(err))
		w.logger.Warn("feishu ws disconnected, reconnecting", "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > wsBackoffMax {
			backoff = wsBackoffMax
		}
	}
}

func (w *WSClient) runOnce(ctx context.Context) error {
	endpoint, err := w.client.wsEndpoint(ctx)
	if err != nil {
		return err
	}

	// No compression: avoids RSV1 issues seen with some gateways.
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return err
	}
	conn.SetReadLimit(wsReadLimit)

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	w.onState(true, "")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go w.pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.logger.Debug("feishu ws: frame parse failed", "error", err)
			continue
		}
		switch frame.Type {
		case "ping":
			w.write(ctx, wsFrame{Type: "pong"})
		case "event":
			var env Envelope
			if err := json.Unmarshal(frame.Payload, &env); err != nil {
				w.logger.Debug("feishu ws: event parse failed", "error", err)
				continue
			}
			// Handler task per event, off the receive path.
			go w.onEvent(&env)
		}
	}
}

func (w *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (w *WSClient) write(ctx context.Context, frame wsFrame) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}
	data, _ := json.Marshal(frame)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		w.logger.Debug("feishu ws: write failed", "error", err)
	}
}

// closeReason extracts a close code and reason from a websocket error.
func closeReason(err error) string {
	if err == nil {
		return ""
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Reason != "" {
			return ce.Reason
		}
		return ce.Code.String()
	}
	return err.Error()
}
