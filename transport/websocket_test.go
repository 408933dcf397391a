package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/event"
)

type wsFixture struct {
	hub      *Hub
	registry *Registry
	server   *httptest.Server
	conn     *websocket.Conn
}

func newWSFixture(t *testing.T, cfg config.TransportConfig) *wsFixture {
	t.Helper()

	hub, err := NewHub(config.Default().Buffer, cfg)
	require.NoError(t, err)
	registry := NewRegistry(hub, cfg)
	handler := NewWSHandler(hub, registry, cfg, nil)

	server := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Close()
		hub.Close()
	})
	return &wsFixture{hub: hub, registry: registry, server: server, conn: conn}
}

func (f *wsFixture) readFrame(t *testing.T) serverFrame {
	t.Helper()
	_ = f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame serverFrame
	require.NoError(t, f.conn.ReadJSON(&frame))
	return frame
}

func TestWebSocketWelcomeAndPing(t *testing.T) {
	f := newWSFixture(t, config.Default().Transport)

	welcome := f.readFrame(t)
	assert.Equal(t, frameWelcome, welcome.Type)
	assert.NotEmpty(t, welcome.ConnectionID)
	assert.Equal(t, 1, f.registry.Count())

	require.NoError(t, f.conn.WriteJSON(clientFrame{Type: framePing}))
	pong := f.readFrame(t)
	assert.Equal(t, framePong, pong.Type)
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	f := newWSFixture(t, config.Default().Transport)
	f.readFrame(t) // welcome

	require.NoError(t, f.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errFrame := f.readFrame(t)
	assert.Equal(t, frameError, errFrame.Type)
	assert.Contains(t, errFrame.Error, "malformed frame")

	// The connection survives: ping still answered.
	require.NoError(t, f.conn.WriteJSON(clientFrame{Type: framePing}))
	assert.Equal(t, framePong, f.readFrame(t).Type)
}

func TestWebSocketSubscribeAndReceiveEvents(t *testing.T) {
	f := newWSFixture(t, config.Default().Transport)
	f.readFrame(t) // welcome

	require.NoError(t, f.conn.WriteJSON(clientFrame{
		Type:     frameSubscribe,
		ClientID: "dashboard-1",
		Filters:  &frameFilters{EntityTypes: []string{event.EntityCustomer}},
	}))
	confirmed := f.readFrame(t)
	assert.Equal(t, frameSubConfirmed, confirmed.Type)
	assert.Equal(t, "dashboard-1", confirmed.ClientID)
	assert.NotEmpty(t, confirmed.SubscriptionID)

	f.hub.Publish(hubEvent("e1", event.EntityService, event.TypeCreated)) // filtered out
	f.hub.Publish(hubEvent("e2", event.EntityCustomer, event.TypeCreated))

	evFrame := f.readFrame(t)
	assert.Equal(t, frameEvent, evFrame.Type)
	require.NotNil(t, evFrame.Event)
	assert.Equal(t, "e2", evFrame.Event.ID)
}

func TestWebSocketSubscribeRequiresClientID(t *testing.T) {
	f := newWSFixture(t, config.Default().Transport)
	f.readFrame(t) // welcome

	require.NoError(t, f.conn.WriteJSON(clientFrame{Type: frameSubscribe}))
	errFrame := f.readFrame(t)
	assert.Equal(t, frameError, errFrame.Type)
	assert.Contains(t, errFrame.Error, "clientId")
}

func TestWebSocketUnsubscribe(t *testing.T) {
	f := newWSFixture(t, config.Default().Transport)
	f.readFrame(t) // welcome

	require.NoError(t, f.conn.WriteJSON(clientFrame{
		Type:     frameSubscribe,
		ClientID: "c1",
	}))
	f.readFrame(t) // confirmation
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, f.conn.WriteJSON(clientFrame{Type: frameUnsubscribe, ClientID: "c1"}))
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)

	// Unknown clientId unsubscribe is a silent no-op; connection still works.
	require.NoError(t, f.conn.WriteJSON(clientFrame{Type: frameUnsubscribe, ClientID: "c9"}))
	require.NoError(t, f.conn.WriteJSON(clientFrame{Type: framePing}))
	assert.Equal(t, framePong, f.readFrame(t).Type)
}

func TestWebSocketCloseTearsDownSubscriptions(t *testing.T) {
	f := newWSFixture(t, config.Default().Transport)
	f.readFrame(t) // welcome

	require.NoError(t, f.conn.WriteJSON(clientFrame{Type: frameSubscribe, ClientID: "c1"}))
	f.readFrame(t) // confirmation
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, f.conn.Close())

	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.registry.Count() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestWebSocketHeartbeat(t *testing.T) {
	cfg := config.Default().Transport
	cfg.HeartbeatInterval = 30 * time.Millisecond
	f := newWSFixture(t, cfg)
	f.readFrame(t) // welcome

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.readFrame(t).Type == frameHeartbeat {
			return
		}
	}
	t.Fatal("no heartbeat frame received")
}
