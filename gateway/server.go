// Package gateway exposes the streaming engine over HTTP: publish ingress,
// the WebSocket and SSE subscription surfaces, stats, health, and metrics.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/engine"
	"github.com/c360/entitystream/errors"
	"github.com/c360/entitystream/metric"
	"github.com/c360/entitystream/natsclient"
	"github.com/c360/entitystream/transport"
)

// Server is the HTTP gateway in front of the engine.
type Server struct {
	cfg    config.ServerConfig
	engine *engine.Engine
	bus    *natsclient.Client // optional, health reporting only

	httpServer *http.Server
	validator  *eventValidator
	limiter    *clientLimiter

	logger  *slog.Logger
	metrics *metric.Registry

	startTime time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With("component", "gateway")
		}
	}
}

// WithMetrics exposes the registry on /metrics and records request
// counters.
func WithMetrics(registry *metric.Registry) Option {
	return func(s *Server) {
		s.metrics = registry
	}
}

// WithBus lets the health endpoint report bus connectivity.
func WithBus(bus *natsclient.Client) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// NewServer builds the gateway with all routes registered.
func NewServer(cfg *config.Config, eng *engine.Engine, opts ...Option) (*Server, error) {
	if eng == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "NewServer",
			"engine is required")
	}

	s := &Server{
		cfg:    cfg.Server,
		engine: eng,
		logger: slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}

	validator, err := newEventValidator()
	if err != nil {
		return nil, err
	}
	s.validator = validator
	s.limiter = newClientLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)

	wsHandler := transport.NewWSHandler(eng.Hub(), eng.Registry(), cfg.Transport, s.logger)
	sseHandler := transport.NewSSEHandler(eng.Hub(), eng.Registry(), cfg.Transport, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/events", s.withMiddleware(s.handlePublish))
	mux.HandleFunc("GET /api/v1/events/{id}", s.withMiddleware(s.handleStatus))
	mux.HandleFunc("GET /api/v1/stats", s.withMiddleware(s.handleStats))
	mux.Handle("GET /api/v1/events/stream", s.corsOnly(sseHandler))
	mux.Handle("GET /ws", wsHandler)
	mux.HandleFunc("GET /healthz", s.withMiddleware(s.handleHealthz))
	mux.HandleFunc("OPTIONS /api/v1/", s.withMiddleware(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the gateway's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen on "+s.httpServer.Addr)
	}
	s.logger.Info("gateway listening", "addr", ln.Addr().String())

	go func() {
		if serveErr := s.httpServer.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("gateway server failed", "error", serveErr)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(10 * time.Second)
	}()
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}
