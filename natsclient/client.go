// Package natsclient wraps a core NATS connection for inter-process event
// distribution: bounded-retry connect, publish, subscribe, and graceful
// drain, with connection metrics and structured logging.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/entitystream/errors"
	"github.com/c360/entitystream/metric"
	"github.com/c360/entitystream/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client manages one NATS connection and the subscriptions made through it.
type Client struct {
	urls   []string
	status atomic.Value // ConnectionStatus

	mu   sync.RWMutex
	conn *nats.Conn
	subs []*nats.Subscription

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string

	// Authentication
	username string
	password string
	token    string

	logger  *slog.Logger
	metrics *metric.Registry

	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a NATS client for the given server URLs. The client is
// not connected until Connect is called.
func NewClient(urls []string, opts ...ClientOption) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient",
			"at least one NATS URL required")
	}

	c := &Client{
		urls:          urls,
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
		clientName:    "entitystream",
		logger:        slog.Default().With("component", "natsclient"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.status.Store(StatusDisconnected)
	return c, nil
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(s)
}

// Connect establishes the connection with bounded retry. Transient dial
// failures back off exponentially; the context bounds the whole attempt.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(nats.ErrConnectionClosed, "Client", "Connect",
			"connect on closed client")
	}

	c.setStatus(StatusConnecting)

	cfg := retry.Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		AddJitter:    true,
	}
	err := retry.Do(ctx, cfg, func() error {
		conn, dialErr := nats.Connect(c.urls[0], c.connectionOptions()...)
		if dialErr != nil {
			c.logger.Warn("NATS dial failed", "error", dialErr)
			return dialErr
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "dial NATS")
	}

	c.setStatus(StatusConnected)
	if c.metrics != nil {
		c.metrics.Core().BusConnected.Set(1)
	}
	c.logger.Info("connected to NATS", "url", c.conn.ConnectedUrl())
	return nil
}

// connectionOptions builds the nats.Options from client configuration.
func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			if c.metrics != nil {
				c.metrics.Core().BusConnected.Set(0)
			}
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setStatus(StatusConnected)
			if c.metrics != nil {
				c.metrics.Core().BusConnected.Set(1)
				c.metrics.Core().BusReconnects.Inc()
			}
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if !c.closed.Load() {
				c.setStatus(StatusDisconnected)
				if c.metrics != nil {
					c.metrics.Core().BusConnected.Set(0)
				}
				c.logger.Warn("NATS connection closed unexpectedly")
			}
		}),
	}
	if len(c.urls) > 1 {
		opts = append(opts, func(o *nats.Options) error {
			o.Servers = c.urls
			return nil
		})
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

// Publish sends data on the given subject.
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(nats.ErrConnectionClosed, "Client", "Publish",
			"publish to "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Subscribe registers a handler for the given subject. The subscription
// lives until the client is closed.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errors.WrapTransient(nats.ErrConnectionClosed, "Client", "Subscribe",
			"subscribe to "+subject)
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe to "+subject)
	}
	c.subs = append(c.subs, sub)
	c.logger.Debug("subscribed", "subject", subject)
	return nil
}

// Drain flushes pending messages and unsubscribes everything, then closes
// the connection.
func (c *Client) Drain() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.setStatus(StatusClosed)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if c.metrics != nil {
		c.metrics.Core().BusConnected.Set(0)
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.Wrap(err, "Client", "Drain", "drain connection")
	}
	return nil
}

// Close closes the connection immediately without draining.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.setStatus(StatusClosed)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if c.metrics != nil {
		c.metrics.Core().BusConnected.Set(0)
	}
}
