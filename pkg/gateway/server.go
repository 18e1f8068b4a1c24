package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/clock"
	"github.com/harun/parley/pkg/programs"
	"github.com/harun/parley/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const DefaultShutdownTimeout = 30 * time.Second

// Server is the dialogue gateway: JSON-RPC over HTTP and WebSocket plus
// REST routes, all driving sessions of one registry
type Server struct {
	host            string
	port            int
	shutdownTimeout time.Duration
	server          *http.Server
	listener        net.Listener
	upgrader        websocket.Upgrader
	clients         *ClientRegistry
	router          *RPCRouter
	auth            *AuthHandler
	limiters        *limiterSet
	dialogues       *Dialogues
	logger          zerolog.Logger
	isShuttingDown  bool
	shutdownMu      sync.RWMutex
	inFlightReqs    sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host              string
	Port              int
	SharedSecret      string
	RequestsPerMinute int
	MaxConcurrent     int
	ShutdownTimeout   time.Duration
	Registry          *session.Registry
	Catalog           *programs.Catalog
	Clock             clock.Clock
	Logger            zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("program catalog is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	s := &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		shutdownTimeout: cfg.ShutdownTimeout,
		clients:         NewClientRegistry(),
		router:          NewRPCRouterWithClock(cfg.Clock, DefaultIdempotencyTTL),
		auth:            NewAuthHandler(cfg.SharedSecret),
		limiters:        newLimiterSet(cfg.Clock, cfg.RequestsPerMinute, cfg.MaxConcurrent),
		dialogues:       NewDialogues(cfg.Registry, cfg.Catalog, cfg.Logger),
		logger:          cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registerDialogueMethods()

	return s, nil
}

// Handler returns the HTTP handler serving every gateway route
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("POST /dialogues/{program}", s.guard(s.handleRESTStart))
	mux.Handle("POST /dialogues/session/{id}", s.guard(s.handleRESTExchange))
	mux.Handle("GET /dialogues/session/{id}", s.guard(s.handleRESTCollect))
	mux.Handle("DELETE /dialogues/session/{id}", s.guard(s.handleRESTEnd))
	mux.Handle("GET /dialogues", s.guard(s.handleRESTSessions))
	mux.Handle("GET /programs", s.guard(s.handleRESTPrograms))
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"sessions": s.dialogues.registry.Len(),
			"clients":  s.clients.Count(),
		})
	})
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once Start succeeded
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the gateway server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// admit runs the checks shared by every HTTP entry point. It writes the
// rejection itself and returns a release func on success.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) (func(), bool) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return nil, false
	}

	if !s.auth.Authorize(r) {
		observability.RecordSecurityAudit(r.Context(), "gateway.unauthorized", clientAddr(r), "failure", map[string]interface{}{
			"path": r.URL.Path,
		})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	limiter := s.limiters.get(clientAddr(r))
	if ok, code, reason := limiter.Acquire(); !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus(code))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": &RPCError{Code: code, Message: reason}})
		return nil, false
	}

	s.inFlightReqs.Add(1)
	return func() {
		limiter.RecordRequestEnd()
		s.inFlightReqs.Done()
	}, true
}

// guard wraps a REST handler with admission and request tracing
func (s *Server) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, ok := s.admit(w, r)
		if !ok {
			return
		}
		defer release()

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		ctx := tracing.NewRequestContext(r.Context(), r.Header.Get("X-Trace-Id"))
		next(w, r.WithContext(withClientID(ctx, clientAddr(r))))
	})
}

// handleRPC handles single-shot HTTP JSON-RPC requests
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(RPCResponse{
			ID:      "",
			JSONRPC: "2.0",
			Error:   toRPCError(err),
		})
		return
	}

	ctx := tracing.NewRequestContext(r.Context(), r.Header.Get("X-Trace-Id"))
	ctx = tracing.WithRequestID(withClientID(ctx, clientAddr(r)), req.ID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	resp := s.router.RouteRequest(ctx, req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

// handleWebSocket upgrades the connection and serves JSON-RPC frames on it
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.auth.Authorize(r) {
		observability.RecordSecurityAudit(r.Context(), "gateway.unauthorized", clientAddr(r), "failure", map[string]interface{}{
			"path": r.URL.Path,
		})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		RateLimiter:  s.limiters.get(clientID),
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

// handleClient answers the client's requests one at a time, in order
func (s *Server) handleClient(client *Client) {
	ctx, cancel := context.WithCancel(withClientID(context.Background(), client.ID))
	defer func() {
		cancel()
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		if err := client.Conn.WriteJSON(s.handleMessage(ctx, client, message)); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Msg("Failed to send response")
			return
		}
	}
}

// handleMessage handles a single message from a client
func (s *Server) handleMessage(ctx context.Context, client *Client, message []byte) *RPCResponse {
	if s.shuttingDown() {
		return &RPCResponse{JSONRPC: "2.0", Error: &RPCError{Code: InternalError, Message: "server is shutting down"}}
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		return &RPCResponse{JSONRPC: "2.0", Error: toRPCError(err)}
	}

	ok, code, reason := client.RateLimiter.Acquire()
	if !ok {
		return &RPCResponse{ID: req.ID, JSONRPC: "2.0", Error: &RPCError{Code: code, Message: reason}}
	}
	s.inFlightReqs.Add(1)
	defer client.RateLimiter.RecordRequestEnd()
	defer s.inFlightReqs.Done()

	ctx = tracing.WithRequestID(tracing.NewRequestContext(ctx, ""), req.ID)
	return s.router.RouteRequest(ctx, req)
}

// RegisterMethod registers an additional RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// UnregisterMethod unregisters an RPC method handler
func (s *Server) UnregisterMethod(name string) {
	s.router.UnregisterMethod(name)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

// UpdateLimits applies new per-client rate limits to current and future
// clients. Non-positive values select the defaults.
func (s *Server) UpdateLimits(requestsPerMinute, maxConcurrent int) {
	s.limiters.update(requestsPerMinute, maxConcurrent)
	s.logger.Info().
		Int("requests_per_minute", requestsPerMinute).
		Int("max_concurrent", maxConcurrent).
		Msg("Gateway rate limits updated")
}

// Methods returns the registered RPC method names
func (s *Server) Methods() []string {
	return s.router.GetMethods()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
