package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skirmish/internal/game"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPrometheusMetrics verifies engine instrumentation lands in the collectors
func TestPrometheusMetrics(t *testing.T) {
	m := PrometheusMetrics{}

	rejected := placementRejections.WithLabelValues("player", "not_adjacent")
	before := testutil.ToFloat64(rejected)
	m.PlacementRejected(game.FactionPlayer, game.RejectNotAdjacent)
	m.PlacementRejected(game.FactionPlayer, game.RejectNotAdjacent)
	assert.Equal(t, before+2, testutil.ToFloat64(rejected))

	m.SetPopulation(4, 7, 2)
	assert.Equal(t, 7.0, testutil.ToFloat64(population.WithLabelValues("unit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(population.WithLabelValues("bullet")))

	destroyed := entitiesDestroyed.WithLabelValues("building")
	before = testutil.ToFloat64(destroyed)
	m.EntityDestroyed(game.TargetBuilding)
	assert.Equal(t, before+1, testutil.ToFloat64(destroyed))

	ended := matchesEnded.WithLabelValues("none", "timeout")
	before = testutil.ToFloat64(ended)
	m.MatchEnded(game.FactionNone, game.EndTimeout)
	assert.Equal(t, before+1, testutil.ToFloat64(ended))

	m.ObserveTick(time.Millisecond)
	m.ShotFired(game.FactionOpponent)
	m.UnitSpawned(game.FactionPlayer, game.UnitTank)
	m.PlacementAccepted(game.FactionOpponent, game.BuildingDronePad)
}

// TestDebugHandler covers health, metrics and basic auth
func TestDebugHandler(t *testing.T) {
	var healthErr error
	h := NewDebugHandler(ObservabilityConfig{
		Health: func() error { return healthErr },
	})

	get := func(handler http.Handler, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get(h, "/health").Code)
	assert.Equal(t, http.StatusOK, get(h, "/metrics").Code)

	healthErr = errors.New("occupancy desync")
	rec := get(h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "occupancy desync")

	guarded := NewDebugHandler(ObservabilityConfig{BasicAuthUser: "ops", BasicAuthPass: "pw"})
	assert.Equal(t, http.StatusUnauthorized, get(guarded, "/health").Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.SetBasicAuth("ops", "pw")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestAdminAuth covers token extraction
func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header map[string]string
		want   bool
	}{
		{"disabled", "", nil, true},
		{"missing", "k", nil, false},
		{"bearer", "k", map[string]string{"Authorization": "Bearer k"}, true},
		{"bearer wrong", "k", map[string]string{"Authorization": "Bearer kk"}, false},
		{"basic scheme ignored", "k", map[string]string{"Authorization": "Basic k"}, false},
		{"header", "k", map[string]string{AdminTokenHeader: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/match/restart", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, NewAdminAuth(tt.token).Check(req))
		})
	}
}

// TestConnectionLimiter verifies per-IP slots are reserved and released
func TestConnectionLimiter(t *testing.T) {
	l := NewConnectionLimiter(2)
	assert.True(t, l.Acquire("1.2.3.4"))
	assert.True(t, l.Acquire("1.2.3.4"))
	assert.False(t, l.Acquire("1.2.3.4"))
	assert.True(t, l.Acquire("5.6.7.8"))

	l.Release("1.2.3.4")
	assert.Equal(t, 1, l.Count("1.2.3.4"))
	assert.True(t, l.Acquire("1.2.3.4"))
	assert.Equal(t, uint64(1), l.Rejected())

	l.Release("5.6.7.8")
	l.Release("5.6.7.8")
	assert.Equal(t, 0, l.Count("5.6.7.8"))
	assert.Equal(t, 1, l.Tracked(), "idle IPs are forgotten")
}

// TestIPRateLimiter covers per-class budgets, retry hints and sweeping
func TestIPRateLimiter(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		Query:           Budget{PerSecond: 1, Burst: 1},
		Command:         Budget{PerSecond: 0.5, Burst: 1},
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a", ClassQuery)
	assert.True(t, ok)
	ok, retry := rl.Allow("a", ClassQuery)
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	ok, _ = rl.Allow("a", ClassCommand)
	assert.True(t, ok, "classes do not share tokens")
	ok, retry = rl.Allow("a", ClassCommand)
	assert.False(t, ok)
	assert.Equal(t, 2*time.Second, retry)

	ok, _ = rl.Allow("b", ClassQuery)
	assert.True(t, ok, "clients do not share tokens")

	now = now.Add(time.Second)
	ok, _ = rl.Allow("a", ClassQuery)
	assert.True(t, ok, "rejections do not consume future tokens")

	allowed, rejected := rl.Counts(ClassQuery)
	assert.Equal(t, uint64(3), allowed)
	assert.Equal(t, uint64(1), rejected)

	assert.Equal(t, 0, rl.sweep(now.Add(-time.Minute)))
	assert.Equal(t, 3, rl.sweep(now.Add(time.Minute)))
}

// TestRateLimitConfigDefaults verifies unset budgets fall back per class
func TestRateLimitConfigDefaults(t *testing.T) {
	cfg := RateLimitConfig{Command: Budget{PerSecond: 1, Burst: 3}}
	assert.Equal(t, DefaultRateLimitConfig.Query, cfg.budget(ClassQuery))
	assert.Equal(t, Budget{PerSecond: 1, Burst: 3}, cfg.budget(ClassCommand))
}

// TestRateLimiterClientKey verifies proxy headers are ignored unless trusted
func TestRateLimiterClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	direct := &IPRateLimiter{}
	assert.Equal(t, "10.0.0.1", direct.clientKey(req))

	proxied := &IPRateLimiter{config: RateLimitConfig{TrustProxy: true}}
	assert.Equal(t, "203.0.113.9", proxied.clientKey(req))
}

// TestOriginPolicy covers configured and loopback origins
func TestOriginPolicy(t *testing.T) {
	p := NewOriginPolicy([]string{"https://play.example.com/", "http://localhost:*"})

	assert.True(t, p.Allow("https://play.example.com"))
	assert.True(t, p.Allow("http://[::1]:3000"))
	assert.True(t, p.Allow("https://localhost:8443"))
	assert.False(t, p.Allow("https://evil.example.com"))
	assert.False(t, p.Allow("ws://localhost:3000"))
	assert.False(t, p.Allow("http://localhost:*"), "wildcards are not origins")
}

// TestGetClientIP covers proxy headers
func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", GetClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", GetClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", GetClientIP(req))
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:7070": true,
		"[::1]:6060":     true,
		"0.0.0.0:6060":   false,
		":6060":          false,
		"10.0.0.5:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

// TestHubEvictsSlowClient verifies a client whose queue is full is dropped
// and its per-IP slot released, without blocking other deliveries.
func TestHubEvictsSlowClient(t *testing.T) {
	hub := NewWebSocketHub(zerolog.Nop(), nil)
	go hub.Run()
	defer hub.Stop()

	slow := &wsClient{ip: "10.1.1.1", send: make(chan []byte, 1)}
	fast := &wsClient{ip: "10.1.1.2", send: make(chan []byte, 4)}
	for _, c := range []*wsClient{slow, fast} {
		require.True(t, hub.conns.Acquire(c.ip))
		hub.register <- c
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("game:state", 1)
	hub.Broadcast("game:state", 2)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.conns.Count(slow.ip))
	assert.Equal(t, 1, hub.conns.Count(fast.ip))

	// The slow client got the first message, then its queue was closed.
	_, ok := <-slow.send
	assert.True(t, ok)
	_, ok = <-slow.send
	assert.False(t, ok)

	require.Eventually(t, func() bool { return len(fast.send) == 2 }, time.Second, 5*time.Millisecond)
}

// TestHubStopClosesQueues verifies Stop releases every client
func TestHubStopClosesQueues(t *testing.T) {
	hub := NewWebSocketHub(zerolog.Nop(), nil)
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	c := &wsClient{ip: "10.1.1.3", send: make(chan []byte, 1)}
	require.True(t, hub.conns.Acquire(c.ip))
	hub.register <- c

	hub.Stop()
	hub.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	_, ok := <-c.send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.conns.Tracked())
	assert.Equal(t, 0, hub.ClientCount())
}
