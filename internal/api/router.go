package api

import (
	"io"
	"net/http"
	"time"

	"skirmish/internal/game"
	"skirmish/internal/history"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// EngineInterface is the slice of *game.Engine the HTTP layer touches.
// Tests substitute a mock so no tick loop runs.
type EngineInterface interface {
	GetSnapshot() *game.GameSnapshot
	Status() game.MatchStatus
	Rules() *game.Rules
	Place(f game.Faction, t game.BuildingType, x, y int) game.PlacementResult
	Restart(seed int64) game.MatchStatus
	CheckInvariants() error
}

// HistorySource lists finished matches, newest first, and tallies them.
type HistorySource interface {
	List(limit int) ([]game.MatchResult, error)
	Summary() history.Summary
}

// FrameRenderer draws a snapshot as a PNG.
type FrameRenderer interface {
	EncodePNG(w io.Writer, snap *game.GameSnapshot) error
}

// defaultCORSOrigins admits any local dev server.
var defaultCORSOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}

// RouterConfig wires the router's collaborators. Only Engine is required:
//
//	ts := httptest.NewServer(api.NewRouter(api.RouterConfig{
//	    Engine: engine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        Query:   api.Budget{PerSecond: 1000, Burst: 1000},
//	        Command: api.Budget{PerSecond: 1000, Burst: 1000},
//	    },
//	}))
type RouterConfig struct {
	Engine EngineInterface

	// History serves GET /api/history. Nil answers with an empty list.
	History HistorySource

	// Renderer serves GET /api/frame.png. Nil disables the route.
	Renderer FrameRenderer

	// RateLimiter, when set, is shared instead of building one from
	// RateLimitConfig (or DefaultRateLimitConfig when that is nil too).
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	// CORSOrigins replaces defaultCORSOrigins. The WebSocket origin check
	// also accepts the exact entries.
	CORSOrigins []string

	// AdminToken guards match restarts. Empty leaves them open.
	AdminToken string

	// DisableLogging drops the per-request log line.
	DisableLogging bool

	Logger zerolog.Logger
}

// limiter returns the configured rate limiter, creating it on first use.
func (cfg *RouterConfig) limiter() *IPRateLimiter {
	if cfg.RateLimiter != nil {
		return cfg.RateLimiter
	}
	rlc := DefaultRateLimitConfig
	if cfg.RateLimitConfig != nil {
		rlc = *cfg.RateLimitConfig
	}
	cfg.RateLimiter = NewIPRateLimiter(rlc)
	return cfg.RateLimiter
}

type routerHandlers struct {
	engine   EngineInterface
	history  HistorySource
	renderer FrameRenderer
	logger   zerolog.Logger
}

// NewRouter builds the REST API. It opens no listeners and starts nothing
// except the rate limiter's sweeper, so it is safe under httptest.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger.With().Str("component", "api").Logger()

	r := chi.NewRouter()
	if !cfg.DisableLogging {
		r.Use(logRequests(logger))
	}
	r.Use(middleware.Recoverer, instrument)

	// Over-budget clients are turned away before CORS does any work.
	r.Use(cfg.limiter().Middleware)

	origins := cfg.CORSOrigins
	if origins == nil {
		origins = defaultCORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AdminTokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := &routerHandlers{
		engine:   cfg.Engine,
		history:  cfg.History,
		renderer: cfg.Renderer,
		logger:   logger,
	}
	r.Route("/api", func(r chi.Router) {
		h.mountQueries(r)
		h.mountCommands(r, NewAdminAuth(cfg.AdminToken))
	})
	return r
}

func (h *routerHandlers) mountQueries(r chi.Router) {
	r.Get("/state", h.handleGetState)
	r.Get("/status", h.handleGetStatus)
	r.Get("/rules", h.handleGetRules)
	r.Get("/invariants", h.handleCheckInvariants)
	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.handleGetHistory)
		r.Get("/summary", h.handleGetHistorySummary)
	})
	if h.renderer != nil {
		r.Get("/frame.png", h.handleGetFrame)
	}
}

func (h *routerHandlers) mountCommands(r chi.Router, admin *AdminAuth) {
	r.Post("/place", h.handlePlace)
	r.With(admin.Middleware).Post("/match/restart", h.handleRestart)
}

// logRequests writes one debug line per request (info for server errors).
func logRequests(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			ev := logger.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				ev = logger.Info()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
