package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"skirmish/internal/game"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// MaxWSConnectionsTotal caps concurrent WebSocket clients.
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP caps concurrent WebSocket clients from one IP.
	MaxWSConnectionsPerIP = 10

	// BroadcastInterval paces game:state messages (10 per second)
	BroadcastInterval = 100 * time.Millisecond

	// clientQueue is how many messages a client may fall behind before it is
	// dropped as too slow.
	clientQueue = 16

	writeWait      = 2 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512

	// eventWait bounds how long a must-deliver event waits for the hub.
	eventWait = time.Second
)

type wsClient struct {
	conn *websocket.Conn
	ip   string
	send chan []byte
}

// wsMessage is the envelope every broadcast uses
type wsMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// WebSocketHub fans server events out to browser clients. Run owns the client
// set; each client has its own writer goroutine fed by a bounded queue.
type WebSocketHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	upgrader websocket.Upgrader
	conns    *ConnectionLimiter
	origins  OriginPolicy
	clientIP func(*http.Request) string

	stopChan chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewWebSocketHub creates a hub. Browser origins outside loopback must be
// listed in origins.
func NewWebSocketHub(logger zerolog.Logger, origins []string) *WebSocketHub {
	h := &WebSocketHub{
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		conns:      NewConnectionLimiter(MaxWSConnectionsPerIP),
		origins:    NewOriginPolicy(origins),
		clientIP:   remoteHost,
		stopChan:   make(chan struct{}),
		logger:     logger.With().Str("component", "ws").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if h.origins.Allow(origin) {
				return true
			}
			h.logger.Warn().Str("origin", origin).Msg("websocket connection rejected")
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run services registrations and broadcasts until Stop is called
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stopChan:
			h.mu.Lock()
			for c := range h.clients {
				h.removeLocked(c)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Debug().Str("ip", c.ip).Int("clients", count).Msg("client connected")
			UpdateWSConnections(count)

		case c := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(c)
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Debug().Str("ip", c.ip).Int("clients", count).Msg("client disconnected")
			UpdateWSConnections(count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn().Str("ip", c.ip).Msg("dropping slow websocket client")
					RecordConnectionRejected("ws_slow")
					h.removeLocked(c)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()

			UpdateWSConnections(count)
			IncrementWSMessages()
		}
	}
}

// removeLocked forgets c and lets its writer shut the connection down.
// Removing a client twice is a no-op.
func (h *WebSocketHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.conns.Release(c.ip)
}

// Stop closes every connection and ends Run
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Broadcast queues an event for every client. When the hub is backed up the
// event is skipped; state updates supersede each other.
func (h *WebSocketHub) Broadcast(event string, data interface{}) {
	msg, ok := h.encode(event, data)
	if !ok {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// BroadcastMatchEnd announces a finished match. Unlike state updates it waits
// briefly for room in the hub queue.
func (h *WebSocketHub) BroadcastMatchEnd(result game.MatchResult) {
	msg, ok := h.encode("match:end", result)
	if !ok {
		return
	}
	timer := time.NewTimer(eventWait)
	defer timer.Stop()

	select {
	case h.broadcast <- msg:
	case <-h.stopChan:
	case <-timer.C:
		h.logger.Warn().Uint64("match", result.Match).Msg("match:end not delivered, hub busy")
	}
}

func (h *WebSocketHub) encode(event string, data interface{}) ([]byte, bool) {
	msg, err := json.Marshal(wsMessage{Event: event, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return nil, false
	}
	return msg, true
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartBroadcastLoop publishes the latest snapshot every BroadcastInterval.
// Unchanged snapshots (same sequence) are not re-sent.
func (h *WebSocketHub) StartBroadcastLoop(engine EngineInterface) {
	ticker := time.NewTicker(BroadcastInterval)

	go func() {
		defer ticker.Stop()
		var lastSeq uint64
		for {
			select {
			case <-h.stopChan:
				return
			case <-ticker.C:
			}

			if h.ClientCount() == 0 {
				continue
			}
			snap := engine.GetSnapshot()
			if snap == nil || snap.Sequence == lastSeq {
				continue
			}
			lastSeq = snap.Sequence
			h.Broadcast("game:state", snap)
		}
	}()
}

// HandleWebSocket upgrades a request after the total and per-IP caps pass.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := h.clientIP(r)

	if total := h.ClientCount(); total >= MaxWSConnectionsTotal {
		h.logger.Warn().Int("clients", total).Msg("websocket connection rejected: total limit reached")
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.conns.Acquire(ip) {
		h.logger.Warn().Str("ip", ip).Msg("websocket connection rejected: per-IP limit reached")
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug().Err(err).Msg("websocket upgrade")
		h.conns.Release(ip)
		return
	}

	c := &wsClient{conn: conn, ip: ip, send: make(chan []byte, clientQueue)}
	select {
	case h.register <- c:
	case <-h.stopChan:
		h.conns.Release(ip)
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// writePump drains c.send to the socket and keeps the connection alive with
// pings. It owns closing the connection.
func (h *WebSocketHub) writePump(c *wsClient) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames (the protocol is server-push only) and
// reports the disconnect to Run.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stopChan:
		}
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
