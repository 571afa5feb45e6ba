package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"skirmish/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const metricsNamespace = "skirmish"

// DefaultDebugAddr is where the debug server listens unless configured.
const DefaultDebugAddr = "127.0.0.1:6060"

// Every label value below comes from a closed set (enums, route patterns,
// fixed reason strings) so series count stays bounded.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one simulation tick.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	population = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "entities",
		Help:      "Live entities by kind.",
	}, []string{"kind"})

	placements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "placements_total",
		Help:      "Accepted placements by faction and building type.",
	}, []string{"faction", "type"})

	placementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "placement_rejections_total",
		Help:      "Rejected placements by faction and reason.",
	}, []string{"faction", "reason"})

	unitsSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "units_spawned_total",
		Help:      "Units spawned by faction and type.",
	}, []string{"faction", "type"})

	shotsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "shots_fired_total",
		Help:      "Bullets fired by faction.",
	}, []string{"faction"})

	entitiesDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "entities_destroyed_total",
		Help:      "Buildings and units destroyed.",
	}, []string{"kind"})

	matchesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "matches_total",
		Help:      "Finished matches by winner and reason.",
	}, []string{"winner", "reason"})

	eventLogTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "eventlog",
		Name:      "events",
		Help:      "Events accepted since start.",
	})

	eventLogDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "eventlog",
		Name:      "dropped",
		Help:      "Events shed by the rate limit or a full buffer.",
	})

	// reason: rate_limit_query, rate_limit_command, origin, unauthorized,
	// ws_total_limit, ws_ip_limit, ws_slow
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "api",
		Name:      "rejected_total",
		Help:      "Requests and connections turned away.",
	}, []string{"reason"})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern and status.",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected WebSocket clients.",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "ws",
		Name:      "broadcasts_total",
		Help:      "Messages fanned out to clients.",
	})
)

// PrometheusMetrics feeds engine instrumentation into the collectors above.
type PrometheusMetrics struct{}

var _ game.Metrics = PrometheusMetrics{}

func (PrometheusMetrics) ObserveTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

func (PrometheusMetrics) SetPopulation(buildings, units, bullets int) {
	population.WithLabelValues("building").Set(float64(buildings))
	population.WithLabelValues("unit").Set(float64(units))
	population.WithLabelValues("bullet").Set(float64(bullets))
}

func (PrometheusMetrics) PlacementAccepted(f game.Faction, t game.BuildingType) {
	placements.WithLabelValues(f.String(), t.String()).Inc()
}

func (PrometheusMetrics) PlacementRejected(f game.Faction, reason game.RejectReason) {
	placementRejections.WithLabelValues(f.String(), string(reason)).Inc()
}

func (PrometheusMetrics) UnitSpawned(f game.Faction, t game.UnitType) {
	unitsSpawned.WithLabelValues(f.String(), t.String()).Inc()
}

func (PrometheusMetrics) ShotFired(f game.Faction) {
	shotsFired.WithLabelValues(f.String()).Inc()
}

func (PrometheusMetrics) EntityDestroyed(kind game.TargetKind) {
	entitiesDestroyed.WithLabelValues(kind.String()).Inc()
}

func (PrometheusMetrics) MatchEnded(winner game.Faction, reason game.EndReason) {
	matchesEnded.WithLabelValues(winner.String(), reason.String()).Inc()
}

// ObservabilityConfig configures the pprof/metrics listener.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string

	// AllowExternal permits a non-loopback ListenAddr. Leave it off in
	// production; pprof endpoints are cheap to abuse.
	AllowExternal bool

	// Optional basic auth in front of every debug route.
	BasicAuthUser string
	BasicAuthPass string

	// Health is consulted by /health; nil always reports OK.
	Health func() error
}

// DefaultObservabilityConfig enables the listener on loopback.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{Enabled: true, ListenAddr: DefaultDebugAddr}
}

var pprofRoutes = map[string]http.HandlerFunc{
	"/debug/pprof/":        pprof.Index,
	"/debug/pprof/cmdline": pprof.Cmdline,
	"/debug/pprof/profile": pprof.Profile,
	"/debug/pprof/symbol":  pprof.Symbol,
	"/debug/pprof/trace":   pprof.Trace,
}

// NewDebugHandler builds the pprof, /metrics and /health mux.
func NewDebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()
	for path, h := range pprofRoutes {
		mux.HandleFunc(path, h)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser == "" {
		return mux
	}
	return requireBasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
}

// StartDebugServer serves NewDebugHandler in the background and returns the
// server for shutdown, or nil when disabled. A non-loopback address is
// replaced by DefaultDebugAddr unless AllowExternal is set.
func StartDebugServer(cfg ObservabilityConfig, logger zerolog.Logger) *http.Server {
	logger = logger.With().Str("component", "debug").Logger()
	if !cfg.Enabled {
		logger.Info().Msg("debug server disabled")
		return nil
	}

	addr := cfg.ListenAddr
	if !cfg.AllowExternal && !isLoopbackAddr(addr) {
		logger.Warn().Str("requested", addr).Str("using", DefaultDebugAddr).Msg("debug server kept on loopback")
		addr = DefaultDebugAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewDebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("debug server listening (pprof, metrics, health)")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("debug server")
		}
	}()
	return srv
}

// isLoopbackAddr reports whether a host:port listen address stays on this machine.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func requireBasicAuth(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="skirmish-debug"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records latency and status per route pattern. Unmatched paths
// share one label so probes cannot inflate cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// UpdateEventLogStats mirrors the event log counters into gauges.
func UpdateEventLogStats(total, dropped uint64) {
	eventLogTotal.Set(float64(total))
	eventLogDropped.Set(float64(dropped))
}

func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
