package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/openclaw/openclaw/pkg/protocol"
)

// HandlerFunc handles one RPC method call. Returning an *protocol.ErrorBody
// short-circuits into an error response.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody)

// MethodRouter maps method names to handlers. Registration happens at
// startup (core methods, then plugin methods); dispatch takes a read lock.
type MethodRouter struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewMethodRouter() *MethodRouter {
	return &MethodRouter{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler. Re-registering a method is a programming error.
func (r *MethodRouter) Register(method string, h HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[method]; dup {
		return fmt.Errorf("method %q already registered", method)
	}
	r.handlers[method] = h
	return nil
}

// MustRegister is Register for startup wiring.
func (r *MethodRouter) MustRegister(method string, h HandlerFunc) {
	if err := r.Register(method, h); err != nil {
		panic(err)
	}
}

// Dispatch runs the handler for a request frame and builds the response.
func (r *MethodRouter) Dispatch(ctx context.Context, req protocol.RequestFrame) *protocol.ResponseFrame {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeUnknownMethod,
			fmt.Sprintf("unknown method %q", req.Method))
	}

	result, errBody := h(ctx, req.Params)
	if errBody != nil {
		return protocol.NewErrorResponse(req.ID, errBody.Code, errBody.Message)
	}
	return protocol.NewResponse(req.ID, result)
}

// Methods lists registered method names, sorted.
func (r *MethodRouter) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
