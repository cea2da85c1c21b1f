// Package gateway serves the RPC channel (WebSocket frames) and the HTTP
// control surface: protected /api/* endpoints, plugin routes, and
// self-authenticating plugin wildcard handlers.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/pkg/protocol"
)

// Server owns the RPC listener and the HTTP mux.
type Server struct {
	cfg      *config.Config
	events   bus.EventPublisher
	router   *MethodRouter
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	mux        *http.ServeMux
	httpServer *http.Server
	startedAt  time.Time

	heartbeatMu   sync.Mutex
	lastHeartbeat time.Time
}

func NewServer(cfg *config.Config, events bus.EventPublisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		events:    events,
		router:    NewMethodRouter(),
		logger:    logger,
		clients:   make(map[string]*Client),
		startedAt: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			ok := CheckBrowserOrigin(r, cfg.Gateway)
			if !ok {
				logger.Warn("browser origin rejected", "origin", r.Header.Get("Origin"))
			}
			return ok
		},
	}
	return s
}

// Router exposes the method router for core and plugin registration.
func (s *Server) Router() *MethodRouter { return s.router }

// MarkHeartbeat records a liveness beat (channel monitors call this).
func (s *Server) MarkHeartbeat() {
	s.heartbeatMu.Lock()
	s.lastHeartbeat = time.Now()
	s.heartbeatMu.Unlock()
}

// LastHeartbeat returns the most recent beat, zero if none.
func (s *Server) LastHeartbeat() time.Time {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	return s.lastHeartbeat
}

// BuildMux assembles the HTTP surface. Explicit plugin routes share gateway
// auth with /api/*; wildcard handlers are mounted bare because webhooks
// bring their own signature checks.
func (s *Server) BuildMux(plugins *channels.Registry, extraWildcards ...channels.WildcardHandler) *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	token := s.cfg.Gateway.Auth.Token
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/api/", requireAuth(token, http.HandlerFunc(s.handleAPI)))

	if plugins != nil {
		for _, p := range plugins.All() {
			hp, ok := p.(channels.HTTPPlugin)
			if !ok {
				continue
			}
			for _, route := range hp.Routes() {
				mux.Handle(route.Path, requireAuth(token, route.Handler))
			}
			for _, wh := range hp.WildcardHandlers() {
				mux.Handle(wh.Prefix, wh.Handler)
			}
		}
	}
	for _, wh := range extraWildcards {
		mux.Handle(wh.Prefix, wh.Handler)
	}

	s.mux = mux
	return mux
}

// Start listens until ctx ends. BuildMux must have run.
func (s *Server) Start(ctx context.Context) error {
	if s.mux == nil {
		return fmt.Errorf("gateway mux not built")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.BindHost(), s.cfg.Gateway.GatewayPort())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", addr, err)
	}
	if s.cfg.Gateway.Bind == "tailnet" {
		tsLn, err := s.tailscaleListener()
		if err != nil {
			s.logger.Warn("tailscale listener unavailable", "error", err)
		} else if tsLn != nil {
			go s.serveOn(ctx, tsLn)
		}
	}
	return s.serveOn(ctx, ln)
}

func (s *Server) serveOn(ctx context.Context, ln net.Listener) error {
	server := &http.Server{Handler: s.mux}
	s.httpServer = server
	s.logger.Info("gateway listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !authorized(r, s.cfg.Gateway.Auth.Token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s.router, s.logger)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()
	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`+"\n", protocol.ProtocolVersion)
}

// handleAPI answers the protected control endpoints. The RPC channel is the
// primary surface; /api/* mirrors the read-only bits for the control UI.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/api") {
	case "/status", "/status/":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"uptimeSeconds":%d,"methods":%d}`+"\n",
			int(time.Since(s.startedAt).Seconds()), len(s.router.Methods()))
	default:
		http.NotFound(w, r)
	}
}

// BroadcastEvent pushes an event to every connected RPC client.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.ID()] = c
	s.mu.Unlock()

	if s.events != nil {
		s.events.Subscribe(c.ID(), func(event bus.Event) {
			c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
		})
	}
	s.logger.Info("rpc client connected", "client", c.ID())
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID())
	s.mu.Unlock()

	if s.events != nil {
		s.events.Unsubscribe(c.ID())
	}
	s.logger.Info("rpc client disconnected", "client", c.ID())
}
