package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"skirmish/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server pairs the REST router with the WebSocket hub and owns their
// background workers.
type Server struct {
	engine      EngineInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	logger      zerolog.Logger
}

// NewServer assembles the API. The hub and broadcast loop only start in
// Start, so tests can build a Server and drive Router() through httptest.
func NewServer(cfg RouterConfig) *Server {
	s := &Server{
		engine: cfg.Engine,
		wsHub:  NewWebSocketHub(cfg.Logger, cfg.CORSOrigins),
		logger: cfg.Logger.With().Str("component", "api").Logger(),
	}

	s.rateLimiter = cfg.limiter()
	// The per-IP WebSocket cap keys clients the same way the HTTP limiter does.
	s.wsHub.clientIP = s.rateLimiter.clientKey

	s.router = NewRouter(cfg)
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start runs the hub and serves addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.engine)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("api server starting")

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Router returns the full handler, /ws included.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub exposes the WebSocket hub, e.g. to announce match results.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// NotifyMatchEnd pushes a match:end event to every client.
func (s *Server) NotifyMatchEnd(result game.MatchResult) {
	s.wsHub.BroadcastMatchEnd(result)
}

// Shutdown stops accepting requests, closes WebSocket clients and stops
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}
