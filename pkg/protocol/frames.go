// Package protocol defines the wire frames and method/event names spoken on
// the gateway's long-lived RPC channel. Frames are newline-delimited JSON.
package protocol

import "encoding/json"

// ProtocolVersion is bumped on breaking frame changes.
const ProtocolVersion = 3

// Frame type discriminators.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is a method call from a client.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers exactly one RequestFrame, matched by ID.
// Responses preserve per-connection request ordering.
type ResponseFrame struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries a structured RPC failure.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is a server-push notification, not tied to a request.
type EventFrame struct {
	Type    string      `json:"type"`
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewResponse builds a successful response for a request id.
func NewResponse(id string, result interface{}) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Result: result}
}

// NewErrorResponse builds a failed response for a request id.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    false,
		Error: &ErrorBody{Code: code, Message: message},
	}
}

// NewEvent builds an event frame.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Name: name, Payload: payload}
}

// Common RPC error codes.
const (
	ErrCodeUnknownMethod = "unknown_method"
	ErrCodeInvalidParams = "invalid_params"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeForbidden     = "forbidden"
	ErrCodeInternal      = "internal"
	ErrCodeNotFound      = "not_found"
)

// Result envelope statuses used by tool-facing methods.
const (
	StatusOK        = "ok"
	StatusAccepted  = "accepted"
	StatusError     = "error"
	StatusForbidden = "forbidden"
)
