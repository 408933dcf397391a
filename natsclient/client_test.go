package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitystream/errors"
)

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient([]string{"nats://127.0.0.1:4222"})
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsConnected())
	assert.Equal(t, -1, c.maxReconnects)
	assert.Equal(t, 2*time.Second, c.reconnectWait)
	assert.Equal(t, "entitystream", c.clientName)
}

func TestClientOptions(t *testing.T) {
	c, err := NewClient([]string{"nats://127.0.0.1:4222"},
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithTimeout(time.Second),
		WithClientName("test-client"),
		WithCredentials("user", "pass"),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, "test-client", c.clientName)
	assert.Equal(t, "user", c.username)
}

func TestClientOptionValidation(t *testing.T) {
	_, err := NewClient([]string{"nats://127.0.0.1:4222"}, WithReconnectWait(0))
	require.Error(t, err)

	_, err = NewClient([]string{"nats://127.0.0.1:4222"}, WithTimeout(-time.Second))
	require.Error(t, err)
}

func TestPublishWhileDisconnected(t *testing.T) {
	c, err := NewClient([]string{"nats://127.0.0.1:4222"})
	require.NoError(t, err)

	err = c.Publish("events.customer", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err), "publish on a down connection is retryable")
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestCloseIdempotent(t *testing.T) {
	c, err := NewClient([]string{"nats://127.0.0.1:4222"})
	require.NoError(t, err)

	c.Close()
	c.Close()
	assert.Equal(t, StatusClosed, c.Status())
	assert.NoError(t, c.Drain())
}
