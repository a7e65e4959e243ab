package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/realtime-relay/internal/config"
	"github.com/GriffinCanCode/realtime-relay/internal/metrics"
	"github.com/GriffinCanCode/realtime-relay/internal/relay"
	"github.com/GriffinCanCode/realtime-relay/internal/syncx"
	"github.com/GriffinCanCode/realtime-relay/internal/trace"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	cfg      *config.Config
	relay    *relay.Handler
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	baseCtx context.Context
	cancel  context.CancelFunc
	conns   *syncx.Registry[*websocket.Conn]
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records connection metrics in m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// New creates a new server.
func New(cfg *config.Config, h *relay.Handler, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		relay: h,
		conns: syncx.NewRegistry[*websocket.Conn](),
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.MetricsEnabled && s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleIndex serves the test page, read from disk on every request.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.cfg.StaticIndexPath)
	if err != nil {
		trace.Logger(r.Context()).Error("failed to read index", "path", s.cfg.StaticIndexPath, "error", err)
		http.Error(w, "Failed to read index.html: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:            healthStatusOK,
		ActiveConnections: s.ActiveConnections(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	if s.cfg.MaxAudioBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxAudioBytes)
	}

	if !s.conns.Add(conn) {
		_ = conn.Close(websocket.StatusGoingAway, shutdownReason)
		return
	}
	defer s.conns.Remove(conn)

	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	log.Info("websocket connected", "remote", r.RemoteAddr)
	s.relay.Serve(ctx, conn)

	if s.baseCtx.Err() != nil {
		_ = conn.Close(websocket.StatusGoingAway, shutdownReason)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int { return s.conns.Len() }

// Shutdown cancels every connection handler, which aborts in-flight upstream
// sessions and closes client sockets with StatusGoingAway, then waits for them
// to finish. Sockets still open when ctx expires are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	n := s.conns.Close()
	trace.Logger(ctx).Info("closing client connections", "count", n)
	s.cancel()

	if err := s.conns.Wait(ctx); err != nil {
		s.conns.Each(func(conn *websocket.Conn) { _ = conn.CloseNow() })
		return err
	}
	return nil
}
