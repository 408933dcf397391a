package transport

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/event"
)

type sseFixture struct {
	hub     *Hub
	server  *httptest.Server
	resp    *http.Response
	scanner *bufio.Scanner
}

func newSSEFixture(t *testing.T, cfg config.TransportConfig, query string) *sseFixture {
	t.Helper()

	hub, err := NewHub(config.Default().Buffer, cfg)
	require.NoError(t, err)
	registry := NewRegistry(hub, cfg)
	handler := NewSSEHandler(hub, registry, cfg, nil)

	server := httptest.NewServer(handler)
	resp, err := http.Get(server.URL + query)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	t.Cleanup(func() {
		_ = resp.Body.Close()
		server.Close()
		hub.Close()
	})
	return &sseFixture{
		hub:     hub,
		server:  server,
		resp:    resp,
		scanner: bufio.NewScanner(resp.Body),
	}
}

func (f *sseFixture) readFrame(t *testing.T) sseFrame {
	t.Helper()
	require.True(t, f.scanner.Scan(), "stream ended: %v", f.scanner.Err())
	var frame sseFrame
	require.NoError(t, json.Unmarshal(f.scanner.Bytes(), &frame))
	return frame
}

func TestSSEConnectedAndEventFrames(t *testing.T) {
	f := newSSEFixture(t, config.Default().Transport, "?entityTypes=customer")

	connected := f.readFrame(t)
	assert.Equal(t, "connected", connected.Type)
	assert.NotEmpty(t, connected.SubscriptionID)

	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	f.hub.Publish(hubEvent("e1", event.EntityService, event.TypeCreated)) // filtered out
	f.hub.Publish(hubEvent("e2", event.EntityCustomer, event.TypeCreated))

	evFrame := f.readFrame(t)
	assert.Equal(t, frameEvent, evFrame.Type)
	require.NotNil(t, evFrame.Event)
	assert.Equal(t, "e2", evFrame.Event.ID)
}

func TestSSEReplaysBufferedEvents(t *testing.T) {
	cfg := config.Default().Transport

	hub, err := NewHub(config.Default().Buffer, cfg)
	require.NoError(t, err)
	t.Cleanup(hub.Close)
	registry := NewRegistry(hub, cfg)
	handler := NewSSEHandler(hub, registry, cfg, nil)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	hub.Publish(hubEvent("e1", event.EntityCustomer, event.TypeCreated))
	hub.Publish(hubEvent("e2", event.EntityCustomer, event.TypeUpdated))

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)

	read := func() sseFrame {
		require.True(t, scanner.Scan())
		var frame sseFrame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame))
		return frame
	}

	assert.Equal(t, "connected", read().Type)
	first := read()
	second := read()
	assert.Equal(t, "e1", first.Event.ID)
	assert.Equal(t, "e2", second.Event.ID)
}

func TestSSEHeartbeat(t *testing.T) {
	cfg := config.Default().Transport
	cfg.HeartbeatInterval = 30 * time.Millisecond
	f := newSSEFixture(t, cfg, "")

	f.readFrame(t) // connected
	frame := f.readFrame(t)
	assert.Equal(t, frameHeartbeat, frame.Type)
}

func TestSSEDisconnectTearsDownSubscription(t *testing.T) {
	f := newSSEFixture(t, config.Default().Transport, "")

	f.readFrame(t) // connected
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, f.resp.Body.Close())

	// Teardown needs the handler to notice the context cancellation, which
	// happens on the next write attempt or heartbeat tick.
	f.hub.Publish(hubEvent("e1", event.EntityCustomer, event.TypeCreated))
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 0 },
		3*time.Second, 10*time.Millisecond)
}
