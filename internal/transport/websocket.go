package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/Aman-CERP/annworker/internal/metrics"
	"github.com/Aman-CERP/annworker/internal/protocol"
	"github.com/Aman-CERP/annworker/internal/worker"
)

const (
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// WebSocketOptions configures a WebSocketServer.
type WebSocketOptions struct {
	Addr string

	// AllowedOrigins limits browser origins. Empty allows any origin.
	AllowedOrigins []string

	// Metrics, when set, is served at /metrics.
	Metrics *metrics.Metrics
}

// WebSocketServer serves the worker protocol at /ws, one Serve loop per
// connection, plus /health and /metrics.
type WebSocketServer struct {
	opts       WebSocketOptions
	dispatcher *worker.Dispatcher
	upgrader   websocket.Upgrader

	// ctx outlives individual HTTP requests; connections run under it.
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup

	mu     sync.Mutex
	server *http.Server
	addr   string
}

// NewWebSocketServer creates a server for d.
func NewWebSocketServer(d *worker.Dispatcher, opts WebSocketOptions) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &WebSocketServer{
		opts:       opts,
		dispatcher: d,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router returns the HTTP handler.
func (s *WebSocketServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler())
	}
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *WebSocketServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	slog.Info("websocket_server_started", slog.String("addr", s.addr))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once listening.
func (s *WebSocketServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops accepting connections, ends every Serve loop and waits
// for them to finish.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	slog.Info("websocket_server_stopped")
	return err
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

type healthResponse struct {
	Status        string `json:"status"`
	ActiveContext string `json:"activeContext,omitempty"`
	EngineLoaded  bool   `json:"engineLoaded"`
}

func (s *WebSocketServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if st := s.dispatcher.State(); st != nil && st.Manager != nil {
		resp.EngineLoaded = st.Manager.EngineLoaded()
		resp.ActiveContext = st.Manager.Active()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	remote := r.RemoteAddr
	slog.Info("websocket_connected", slog.String("remote", remote))

	// r.Context() ends when this handler returns; the connection lives on
	// under the server context.
	s.conns.Add(1)
	go func() {
		defer s.conns.Done()

		conn := newWSConn(ws)
		err := s.dispatcher.Serve(s.ctx, conn)
		conn.close()
		if err != nil {
			slog.Warn("websocket_serve_failed",
				slog.String("remote", remote),
				slog.String("error", err.Error()))
		}
		slog.Info("websocket_disconnected", slog.String("remote", remote))
	}()
}

// wsConn adapts a gorilla connection to worker.Conn. A single goroutine
// owns ReadMessage; writes are serialized.
type wsConn struct {
	ws   *websocket.Conn
	msgs chan wsMessage
	done chan struct{}
	once sync.Once

	writeMu sync.Mutex
}

type wsMessage struct {
	data []byte
	err  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:   ws,
		msgs: make(chan wsMessage),
		done: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *wsConn) pump() {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err == nil && kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		select {
		case c.msgs <- wsMessage{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *wsConn) Read(ctx context.Context) (protocol.Envelope, error) {
	select {
	case m := <-c.msgs:
		if m.err != nil {
			if websocket.IsCloseError(m.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return protocol.Envelope{}, io.EOF
			}
			return protocol.Envelope{}, m.err
		}
		return decodeEnvelope(m.data)
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *wsConn) Write(_ context.Context, env protocol.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
