package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"

	"github.com/zenibako/scenario-sync/messages"
	"github.com/zenibako/scenario-sync/scenario"
)

// wsTransport sends panel messages as JSON text frames
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, msg messages.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal panel message: %w", err)
	}
	return t.conn.Write(ctx, websocket.MessageText, data)
}

// ServerConfig configures the panel server
type ServerConfig struct {
	Addr         string
	StateTimeout time.Duration
	Logger       *log.Logger
}

// Server hosts scenario form panels over WebSocket at /panels/{shortId}
type Server struct {
	addr         string
	cache        *scenario.Cache
	registry     *Registry
	stateTimeout time.Duration
	logger       *log.Logger

	listener net.Listener
	server   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a panel server over cache and registry
func NewServer(cache *scenario.Cache, registry *Registry, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	addr := config.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:         addr,
		cache:        cache,
		registry:     registry,
		stateTimeout: config.StateTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /panels/{shortId}", s.handlePanel)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start listens and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("Panel server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Panel server error", "err", err)
		}
	}()
	return nil
}

// Stop closes every panel and shuts the server down
func (s *Server) Stop() error {
	s.cancel()
	s.registry.CloseAll()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("panel server shutdown error: %w", err)
		}
	}
	s.wg.Wait()
	s.logger.Info("Panel server stopped")
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	shortID := r.PathValue("shortId")
	if shortID == "" {
		http.Error(w, "missing scenario id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "err", err)
		return
	}

	// A replaced panel hands its unsaved model to the new one
	if s.registry.IsDirty(shortID) {
		if err := s.registry.CaptureAndClose(s.ctx, shortID); err != nil {
			s.logger.Warn("Failed to capture replaced panel", "shortId", shortID, "err", err)
		}
	}

	controller := NewController(shortID, s.cache, &wsTransport{conn: conn}, Options{
		Logger:       s.logger,
		StateTimeout: s.stateTimeout,
	})
	s.registry.Register(controller)
	s.logger.Info("Panel connected", "shortId", shortID, "panels", s.registry.Len())

	s.readLoop(conn, controller)
}

// readLoop feeds inbound frames to the controller until the panel disconnects
func (s *Server) readLoop(conn *websocket.Conn, controller *Controller) {
	defer func() {
		s.registry.Unregister(controller)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Info("Panel disconnected", "shortId", controller.ShortID())
	}()

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		if err := controller.HandleMessage(s.ctx, data); err != nil {
			s.logger.Error("Panel message failed", "shortId", controller.ShortID(), "err", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"panels": s.registry.Len(),
	})
}
