package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"Clarity/internal/domain/models"
	"Clarity/internal/usecase"
	applogger "Clarity/pkg/logger"
	"Clarity/pkg/util"
)

// Option configures Hub.
type Option func(*Hub)

func WithPath(path string) Option {
	return func(h *Hub) {
		if path != "" {
			h.path = path
		}
	}
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithTimings sets the per-frame write deadline and the keepalive ping period.
func WithTimings(write, ping time.Duration) Option {
	return func(h *Hub) {
		if write > 0 {
			h.writeTimeout = write
		}
		if ping > 0 {
			h.pingInterval = ping
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(h *Hub) {
		h.log = l
	}
}

type client struct {
	conn     *websocket.Conn
	location string
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub pushes freshly computed forecasts to websocket subscribers. A client
// may subscribe to one location with ?location=; otherwise it receives all.
// Clients that cannot keep up are disconnected.
type Hub struct {
	path         string
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *applogger.Logger
	upgrader     websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

var _ usecase.Broadcaster = (*Hub)(nil)

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		path:         "/ws/forecasts",
		sendBuffer:   32,
		writeTimeout: 5 * time.Second,
		pingInterval: 30 * time.Second,
		log:          applogger.NewNop(),
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET(h.path, h.Serve)
}

// Serve upgrades the request and streams forecasts until the peer leaves.
func (h *Hub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// upgrader already wrote the HTTP error
		return nil
	}
	cl := &client{
		conn:     conn,
		location: util.NormalizeLocation(c.QueryParam("location")),
		send:     make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cl.close()
		return nil
	}
	h.clients[cl] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.log.Info("stream client connected",
		applogger.String("remote", c.RealIP()),
		applogger.String("location", cl.location))

	go h.writeLoop(cl)
	go h.readLoop(cl)
	return nil
}

// Broadcast never blocks; a full client buffer drops that client.
func (h *Hub) Broadcast(rec *models.ForecastRecord) {
	if rec == nil {
		return
	}
	b, err := json.Marshal(usecase.ToResponse(*rec, false))
	if err != nil {
		h.log.Error("encode stream frame", applogger.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for cl := range h.clients {
		if cl.location != "" && cl.location != rec.Query.Location {
			continue
		}
		select {
		case cl.send <- b:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range slow {
		h.log.Warn("dropping slow stream client", applogger.String("location", cl.location))
		h.remove(cl)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their loops to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, cl := range clients {
		cl.close()
	}
	h.wg.Wait()
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.close()
}

func (h *Hub) writeLoop(cl *client) {
	defer h.wg.Done()
	defer h.remove(cl)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cl.done:
			return
		case b := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames; it exists to notice disconnects and
// answer control frames.
func (h *Hub) readLoop(cl *client) {
	defer h.wg.Done()
	defer h.remove(cl)

	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}
