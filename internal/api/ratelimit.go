package api

import (
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RequestClass separates reads from state-changing commands. Each client gets
// an independent budget per class, so placement spam cannot starve its own
// state polling and vice versa.
type RequestClass int

const (
	ClassQuery RequestClass = iota
	ClassCommand
	numClasses
)

func (c RequestClass) String() string {
	if c == ClassCommand {
		return "command"
	}
	return "query"
}

func classify(r *http.Request) RequestClass {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return ClassCommand
	}
	return ClassQuery
}

// Budget is a token bucket: PerSecond refill, Burst capacity.
type Budget struct {
	PerSecond float64
	Burst     int
}

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	Query   Budget
	Command Budget

	// CleanupInterval is how often idle buckets are swept. A bucket idle for
	// two intervals is dropped.
	CleanupInterval time.Duration

	// TrustProxy keys clients by X-Forwarded-For / X-Real-IP. Only enable it
	// behind a proxy that overwrites those headers.
	TrustProxy bool
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitConfig{
	Query:           Budget{PerSecond: 20, Burst: 40},
	Command:         Budget{PerSecond: 5, Burst: 10},
	CleanupInterval: 5 * time.Minute,
}

func (c RateLimitConfig) budget(class RequestClass) Budget {
	b, def := c.Query, DefaultRateLimitConfig.Query
	if class == ClassCommand {
		b, def = c.Command, DefaultRateLimitConfig.Command
	}
	if b.PerSecond <= 0 || b.Burst <= 0 {
		return def
	}
	return b
}

type bucketKey struct {
	client string
	class  RequestClass
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter limits HTTP requests per client and request class.
type IPRateLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	config  RateLimitConfig
	now     func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once

	allowed  [numClasses]atomic.Uint64
	rejected [numClasses]atomic.Uint64
}

// NewIPRateLimiter creates a limiter and starts its sweeper goroutine.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		buckets:  make(map[bucketKey]*bucket),
		config:   cfg,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop ends the sweeper goroutine.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// Allow takes one token from the client's bucket for class. When the bucket
// is empty it returns false and how long until a token is available.
func (rl *IPRateLimiter) Allow(client string, class RequestClass) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	key := bucketKey{client: client, class: class}
	b, ok := rl.buckets[key]
	if !ok {
		budget := rl.config.budget(class)
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(budget.PerSecond), budget.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	res := b.limiter.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	if delay > 0 {
		// Give the token back; a rejected request must not push the next one further out.
		res.CancelAt(now)
	}
	rl.mu.Unlock()

	if delay > 0 {
		rl.rejected[class].Add(1)
		return false, delay
	}
	rl.allowed[class].Add(1)
	return true, 0
}

// Middleware rejects over-budget requests with 429 and a Retry-After header.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := classify(r)
		ok, retry := rl.Allow(rl.clientKey(r), class)
		if !ok {
			RecordConnectionRejected("rate_limit_" + class.String())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *IPRateLimiter) clientKey(r *http.Request) string {
	if rl.config.TrustProxy {
		return GetClientIP(r)
	}
	return remoteHost(r)
}

func (rl *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.sweep(rl.now().Add(-2 * rl.config.CleanupInterval))
		}
	}
}

// sweep drops buckets idle since before cutoff and returns how many it removed.
func (rl *IPRateLimiter) sweep(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Counts returns allowed and rejected totals for class.
func (rl *IPRateLimiter) Counts(class RequestClass) (allowed, rejected uint64) {
	return rl.allowed[class].Load(), rl.rejected[class].Load()
}

// GetClientIP extracts the client IP, preferring proxy headers.
// The headers are client-controlled unless a trusted proxy rewrites them.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ConnectionLimiter caps concurrent WebSocket connections per IP.
type ConnectionLimiter struct {
	mu       sync.Mutex
	open     map[string]int
	maxPerIP int
	rejected atomic.Uint64
}

// NewConnectionLimiter creates a limiter allowing maxPerIP connections per IP.
func NewConnectionLimiter(maxPerIP int) *ConnectionLimiter {
	return &ConnectionLimiter{open: make(map[string]int), maxPerIP: maxPerIP}
}

// Acquire reserves a slot for ip, reporting false when the IP is at its cap.
func (cl *ConnectionLimiter) Acquire(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.open[ip] >= cl.maxPerIP {
		cl.rejected.Add(1)
		return false
	}
	cl.open[ip]++
	return true
}

// Release frees a slot taken by Acquire.
func (cl *ConnectionLimiter) Release(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	switch n := cl.open[ip]; {
	case n > 1:
		cl.open[ip] = n - 1
	case n == 1:
		delete(cl.open, ip)
	}
}

// Count returns the open connections held by ip.
func (cl *ConnectionLimiter) Count(ip string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.open[ip]
}

// Tracked returns how many IPs currently hold a slot.
func (cl *ConnectionLimiter) Tracked() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.open)
}

// Rejected returns how many Acquire calls were refused.
func (cl *ConnectionLimiter) Rejected() uint64 {
	return cl.rejected.Load()
}

// OriginPolicy decides which browser origins may open a WebSocket. Loopback
// origins on any port are always accepted.
type OriginPolicy struct {
	exact map[string]struct{}
}

// NewOriginPolicy accepts the given exact origins in addition to loopback.
// Wildcard entries (CORS patterns such as "http://localhost:*") are ignored.
func NewOriginPolicy(origins []string) OriginPolicy {
	p := OriginPolicy{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o == "" || strings.Contains(o, "*") {
			continue
		}
		p.exact[strings.TrimRight(o, "/")] = struct{}{}
	}
	return p
}

// Allow reports whether origin may connect.
func (p OriginPolicy) Allow(origin string) bool {
	if origin == "" {
		return false
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

var loopbackOrigins = NewOriginPolicy(nil)

// IsAllowedOrigin applies the loopback-only policy.
func IsAllowedOrigin(origin string) bool {
	return loopbackOrigins.Allow(origin)
}
