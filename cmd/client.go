package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/pkg/protocol"
)

const rpcCallTimeout = 30 * time.Second

// gatewayClient is a one-shot RPC client for operator commands. It dials the
// local gateway's /ws endpoint and issues sequential calls.
type gatewayClient struct {
	conn *websocket.Conn
}

func dialGateway(cfg *config.Config) (*gatewayClient, error) {
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.Gateway.GatewayPort())
	header := http.Header{}
	token := cfg.Gateway.Auth.Token
	if env := os.Getenv("OPENCLAW_GATEWAY_TOKEN"); env != "" {
		token = env
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway at %s: %w (is the gateway running?)", url, err)
	}
	return &gatewayClient{conn: conn}, nil
}

func (c *gatewayClient) Close() error { return c.conn.Close() }

// Call issues one request and waits for its response, skipping any event
// frames the server pushes in between.
func (c *gatewayClient) Call(ctx context.Context, method string, params any, result any) error {
	id := uuid.NewString()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		raw = b
	}

	deadline := time.Now().Add(rpcCallTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	for {
		var frame struct {
			Type   string              `json:"type"`
			ID     string              `json:"id"`
			OK     bool                `json:"ok"`
			Result json.RawMessage     `json:"result,omitempty"`
			Error  *protocol.ErrorBody `json:"error,omitempty"`
		}
		if err := c.conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read %s response: %w", method, err)
		}
		if frame.Type != protocol.FrameTypeResponse || frame.ID != id {
			continue
		}
		if !frame.OK {
			if frame.Error != nil {
				return fmt.Errorf("%s: %s (%s)", method, frame.Error.Message, frame.Error.Code)
			}
			return fmt.Errorf("%s failed", method)
		}
		if result != nil && len(frame.Result) > 0 {
			if err := json.Unmarshal(frame.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}
