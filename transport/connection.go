package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/metric"
)

// Connection is a live client connection known to the registry. The owning
// handler touches it on every frame in either direction; the idle sweep
// closes connections whose last activity is older than the timeout.
type Connection struct {
	ID        string
	Transport string // "websocket" or "sse"

	lastActivity atomic.Int64 // unix nanos
	closer       func()
	closeOnce    sync.Once
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent activity.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		if c.closer != nil {
			c.closer()
		}
	})
}

// Registry tracks live connections and runs the idle sweep and the periodic
// stats log.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	hub     *Hub
	cfg     config.TransportConfig
	logger  *slog.Logger
	metrics *metric.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a connection registry bound to the hub (for stats
// logging only).
func NewRegistry(hub *Hub, cfg config.TransportConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:  make(map[string]*Connection),
		hub:    hub,
		cfg:    cfg,
		logger: slog.Default().With("component", "connection-registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.With("component", "connection-registry")
		}
	}
}

// WithRegistryMetrics wires connection gauges into the metrics registry.
func WithRegistryMetrics(registry *metric.Registry) RegistryOption {
	return func(r *Registry) {
		r.metrics = registry
	}
}

// Start launches the idle sweep and stats log loops.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.sweepLoop(ctx)
	go r.statsLoop(ctx)
}

// Stop halts the maintenance loops and closes every live connection.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// Add registers a live connection. The closer tears down the underlying
// socket or stream when the sweep evicts the connection.
func (r *Registry) Add(transport string, closer func()) *Connection {
	c := &Connection{
		ID:        uuid.NewString(),
		Transport: transport,
		closer:    closer,
	}
	c.Touch()

	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	r.updateGauges()
	r.logger.Debug("connection opened", "connectionId", c.ID, "transport", transport)
	return c
}

// Remove deregisters a connection. Idempotent; does not invoke the closer
// (the caller is tearing the connection down itself).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if ok {
		r.updateGauges()
		r.logger.Debug("connection closed", "connectionId", id)
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdle()
		}
	}
}

// sweepIdle closes connections whose last activity is older than the
// connection timeout.
func (r *Registry) sweepIdle() {
	timeout := r.cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var idle []*Connection
	for id, c := range r.conns {
		if c.LastActivity().Before(cutoff) {
			idle = append(idle, c)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		r.logger.Info("closing idle connection",
			"connectionId", c.ID, "transport", c.Transport, "lastActivity", c.LastActivity())
		c.close()
	}
	if len(idle) > 0 {
		r.updateGauges()
	}
}

func (r *Registry) statsLoop(ctx context.Context) {
	defer r.wg.Done()

	interval := r.cfg.StatsLogInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.hub.Stats()
			r.logger.Info("transport stats",
				"connections", r.Count(),
				"subscribers", stats.Subscribers,
				"buffered", stats.BufferedSize,
				"eventsFanned", stats.EventsFanned,
				"dropped", stats.Dropped)
		}
	}
}

func (r *Registry) updateGauges() {
	if r.metrics == nil {
		return
	}
	counts := map[string]int{"websocket": 0, "sse": 0}
	r.mu.RLock()
	for _, c := range r.conns {
		counts[c.Transport]++
	}
	r.mu.RUnlock()
	for transport, n := range counts {
		r.metrics.Core().ConnectionsActive.WithLabelValues(transport).Set(float64(n))
	}
}
