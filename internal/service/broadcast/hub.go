package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"FinFeat/internal/domain/models"
	drepo "FinFeat/internal/domain/repository"
	applogger "FinFeat/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Envelope is the frame sent to websocket clients.
type Envelope struct {
	Type string          `json:"type"`
	Data models.RunEvent `json:"data"`
}

const TypeRun = "feature_run"

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]struct{}
}

func (c *client) wants(symbol string) bool {
	if len(c.symbols) == 0 {
		return true
	}
	_, ok := c.symbols[symbol]
	return ok
}

type outbound struct {
	symbol string
	frame  []byte
}

// Hub fans feature run events out to websocket subscribers. Clients may
// restrict the stream with ?symbols=SPY,QQQ. Slow clients whose buffer is
// full are dropped rather than blocking publishers.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	broadcast  chan outbound
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	clients map[*client]struct{}

	l *applogger.Logger
}

var _ drepo.RunNotifier = (*Hub)(nil)

func NewHub(l *applogger.Logger) *Hub {
	if l == nil {
		l = applogger.Nop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		l:          l.With(applogger.String("component", "broadcast.hub")),
	}
}

// Run owns client registration and delivery until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.l.Info("ws client registered", applogger.String("client_id", c.id), applogger.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.l.Info("ws client unregistered", applogger.String("client_id", c.id), applogger.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg.symbol) {
					continue
				}
				select {
				case c.send <- msg.frame:
				default:
					delete(h.clients, c)
					close(c.send)
					h.l.Warn("ws client dropped: send buffer full", applogger.String("client_id", c.id))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop closes every client and waits for Run to return.
func (h *Hub) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.quit) })
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifyRun queues ev for delivery. It never blocks on slow clients; when the
// hub backlog is full the event is dropped and logged.
func (h *Hub) NotifyRun(_ context.Context, ev models.RunEvent) {
	frame, err := json.Marshal(Envelope{Type: TypeRun, Data: ev})
	if err != nil {
		h.l.Error("ws encode run event", applogger.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{symbol: ev.Symbol, frame: frame}:
	case <-h.quit:
	default:
		h.l.Warn("ws backlog full, run event dropped", applogger.String("symbol", ev.Symbol))
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Warn("ws upgrade failed", applogger.Error(err))
		return
	}
	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		symbols: parseSymbols(r.URL.Query().Get("symbols")),
	}
	select {
	case h.register <- c:
	case <-h.quit:
		_ = conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

func parseSymbols(raw string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.quit:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
