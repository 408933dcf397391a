package natsclient

import (
	"log/slog"
	"time"

	"github.com/c360/entitystream/errors"
	"github.com/c360/entitystream/metric"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithMaxReconnects sets the maximum number of reconnection attempts.
// Negative means reconnect forever.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait between reconnection attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return errors.ErrInvalidConfig
		}
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return errors.ErrInvalidConfig
		}
		c.timeout = d
		return nil
	}
}

// WithClientName sets the connection name visible to the NATS server.
func WithClientName(name string) ClientOption {
	return func(c *Client) error {
		if name != "" {
			c.clientName = name
		}
		return nil
	}
}

// WithCredentials sets username/password authentication.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithMetrics wires connection gauges into the metrics registry.
func WithMetrics(registry *metric.Registry) ClientOption {
	return func(c *Client) error {
		c.metrics = registry
		return nil
	}
}
