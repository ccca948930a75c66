package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/headerkit/source-agent/internal/source"
	"github.com/headerkit/source-agent/internal/telemetry"
)

const (
	// DefaultAddress is the fixed local WebSocket endpoint
	DefaultAddress = "127.0.0.1:59210"

	// DefaultBindRetryDelay is the wait before the single bind retry
	DefaultBindRetryDelay = 2 * time.Second

	// DefaultWriteTimeout bounds each message write
	DefaultWriteTimeout = 10 * time.Second
)

// WSServer serves snapshots over WebSocket. Every connection gets one
// sourcesInitial message followed by sourcesUpdated messages, written by a
// single goroutine from a one-slot buffer holding the newest snapshot.
type WSServer struct {
	addr           string
	bindRetryDelay time.Duration
	writeTimeout   time.Duration
	metrics        *telemetry.BroadcastMetrics
	upgrader       websocket.Upgrader

	mu        sync.Mutex
	latest    []source.Source
	clients   map[*wsClient]struct{}
	server    *http.Server
	listener  net.Listener
	available bool
}

// WSOption configures a WSServer
type WSOption func(*WSServer)

// WithAddress overrides DefaultAddress
func WithAddress(addr string) WSOption {
	return func(s *WSServer) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithBindRetryDelay overrides DefaultBindRetryDelay
func WithBindRetryDelay(d time.Duration) WSOption {
	return func(s *WSServer) {
		s.bindRetryDelay = d
	}
}

// WithWriteTimeout overrides DefaultWriteTimeout
func WithWriteTimeout(d time.Duration) WSOption {
	return func(s *WSServer) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithWSMetrics tracks connected clients
func WithWSMetrics(m *telemetry.BroadcastMetrics) WSOption {
	return func(s *WSServer) {
		s.metrics = m
	}
}

// NewWSServer creates a server; initial is the snapshot sent to clients
// that connect before the first Publish
func NewWSServer(initial []source.Source, opts ...WSOption) *WSServer {
	s := &WSServer{
		addr:           DefaultAddress,
		bindRetryDelay: DefaultBindRetryDelay,
		writeTimeout:   DefaultWriteTimeout,
		latest:         initial,
		clients:        make(map[*wsClient]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkLocalOrigin,
	}
	return s
}

// Name implements Sink
func (*WSServer) Name() string {
	return "websocket"
}

// Start binds the listener and serves in the background. A failed bind is
// retried once after the retry delay; if that fails too the server stays
// unavailable and the error is returned for logging.
func (s *WSServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		slog.Warn("WebSocket bind failed, retrying", "address", s.addr, "error", err, "retry_in", s.bindRetryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.bindRetryDelay):
		}
		ln, err = net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("websocket channel unavailable on %s: %w", s.addr, err)
		}
	}

	r := chi.NewRouter()
	r.Get("/", s.handleConnect)
	r.Get("/ws", s.handleConnect)

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.available = true
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("WebSocket server stopped", "error", err)
		}
	}()

	slog.Info("WebSocket channel listening", "address", ln.Addr().String())
	return nil
}

// Available reports whether the listener is bound
func (s *WSServer) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Addr returns the bound address, or the configured one before Start
func (s *WSServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Clients returns the number of open connections
func (s *WSServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Publish implements Sink
func (s *WSServer) Publish(snapshot []source.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = snapshot
	for c := range s.clients {
		c.pending.put(snapshot)
	}
}

// Shutdown stops accepting connections and closes every client
func (s *WSServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.available = false
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *WSServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		server:  s,
		conn:    conn,
		pending: newLatestSlot(),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	c.pending.put(s.latest)
	s.mu.Unlock()

	s.metrics.ClientConnected(context.Background(), 1)
	slog.Debug("WebSocket client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	go c.readLoop()
}

func (s *WSServer) remove(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if ok {
		s.metrics.ClientConnected(context.Background(), -1)
	}
}

type wsClient struct {
	server      *WSServer
	conn        *websocket.Conn
	pending     *latestSlot
	initialized bool
	done        chan struct{}
	closeOnce   sync.Once
}

// writeLoop is the only writer of conn
func (c *wsClient) writeLoop() {
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case snapshot := <-c.pending.ch:
			msg := Message{Type: MessageSourcesUpdated, Sources: snapshot}
			if !c.initialized {
				msg.Type = MessageSourcesInitial
			}
			if msg.Sources == nil {
				msg.Sources = []source.Source{}
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}
			c.initialized = true
		}
	}
}

// readLoop discards client messages; it exists to notice the close
func (c *wsClient) readLoop() {
	defer c.close()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.server.remove(c)
	})
}

// checkLocalOrigin admits non-browser clients and pages served from loopback hosts
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" || origin == "file://" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
