package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/event"
)

// Frame types exchanged over the duplex channel.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"

	frameWelcome      = "welcome"
	frameSubConfirmed = "subscription_confirmed"
	frameEvent        = "event"
	frameHeartbeat    = "heartbeat"
	framePong         = "pong"
	frameError        = "error"
)

const writeTimeout = 10 * time.Second

// clientFrame is a control message from the client.
type clientFrame struct {
	Type     string        `json:"type"`
	ClientID string        `json:"clientId,omitempty"`
	Filters  *frameFilters `json:"filters,omitempty"`
}

type frameFilters struct {
	EntityTypes []string `json:"entityTypes,omitempty"`
	EventTypes  []string `json:"eventTypes,omitempty"`
}

// serverFrame is a message pushed to the client.
type serverFrame struct {
	Type           string       `json:"type"`
	ConnectionID   string       `json:"connectionId,omitempty"`
	ClientID       string       `json:"clientId,omitempty"`
	SubscriptionID string       `json:"subscriptionId,omitempty"`
	Event          *event.Event `json:"event,omitempty"`
	Error          string       `json:"error,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// WSHandler upgrades HTTP requests to WebSocket connections and speaks the
// duplex subscription protocol.
type WSHandler struct {
	hub      *Hub
	registry *Registry
	cfg      config.TransportConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates the WebSocket endpoint handler.
func NewWSHandler(hub *Hub, registry *Registry, cfg config.TransportConfig, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		hub:      hub,
		registry: registry,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		logger: logger.With("component", "websocket-transport"),
	}
}

// wsSession is the per-connection state. Writes to the socket are
// serialized through writeMu; gorilla/websocket does not tolerate
// concurrent writers.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	connection *Connection

	subsMu sync.Mutex
	subs   map[string]*Subscription // clientId -> subscription

	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSession) writeFrame(f serverFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(f)
}

// ServeHTTP upgrades the connection and runs the session until the socket
// closes. Socket close tears down every subscription bound to the session.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	session := &wsSession{
		conn: conn,
		subs: make(map[string]*Subscription),
		done: make(chan struct{}),
	}
	session.connection = h.registry.Add("websocket", func() {
		_ = conn.Close()
	})

	conn.SetPongHandler(func(string) error {
		session.connection.Touch()
		return nil
	})

	if err := session.writeFrame(serverFrame{
		Type:         frameWelcome,
		ConnectionID: session.connection.ID,
		Timestamp:    time.Now(),
	}); err != nil {
		h.teardown(session)
		return
	}

	go h.heartbeatLoop(session)
	h.readLoop(session)
	h.teardown(session)
}

// readLoop processes client control frames until the socket errors or
// closes. Malformed frames produce an error frame; the connection stays
// open.
func (h *WSHandler) readLoop(session *wsSession) {
	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			return
		}
		session.connection.Touch()

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(session, "malformed frame: "+err.Error())
			continue
		}

		switch frame.Type {
		case frameSubscribe:
			h.handleSubscribe(session, frame)
		case frameUnsubscribe:
			h.handleUnsubscribe(session, frame)
		case framePing:
			_ = session.writeFrame(serverFrame{Type: framePong, Timestamp: time.Now()})
		default:
			h.sendError(session, "unknown frame type: "+frame.Type)
		}
	}
}

func (h *WSHandler) handleSubscribe(session *wsSession, frame clientFrame) {
	if frame.ClientID == "" {
		h.sendError(session, "subscribe requires clientId")
		return
	}

	var filter event.Filter
	if frame.Filters != nil {
		filter = event.Filter{
			EntityTypes: frame.Filters.EntityTypes,
			EventTypes:  frame.Filters.EventTypes,
		}
	}

	sub, err := h.hub.Subscribe(filter, func(e *event.Event) error {
		session.connection.Touch()
		return session.writeFrame(serverFrame{
			Type:      frameEvent,
			ClientID:  frame.ClientID,
			Event:     e,
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		h.sendError(session, "subscription failed: "+err.Error())
		return
	}

	// Re-subscribing under the same clientId replaces the old subscription.
	session.subsMu.Lock()
	if old, ok := session.subs[frame.ClientID]; ok {
		old.Unsubscribe()
	}
	session.subs[frame.ClientID] = sub
	session.subsMu.Unlock()

	_ = session.writeFrame(serverFrame{
		Type:           frameSubConfirmed,
		ClientID:       frame.ClientID,
		SubscriptionID: sub.ID,
		Timestamp:      time.Now(),
	})
	h.logger.Debug("websocket subscription confirmed",
		"connectionId", session.connection.ID, "clientId", frame.ClientID,
		"subscriptionId", sub.ID)
}

func (h *WSHandler) handleUnsubscribe(session *wsSession, frame clientFrame) {
	session.subsMu.Lock()
	sub, ok := session.subs[frame.ClientID]
	if ok {
		delete(session.subs, frame.ClientID)
	}
	session.subsMu.Unlock()

	// Unknown clientId is a no-op: unsubscribe is idempotent.
	if ok {
		sub.Unsubscribe()
	}
}

func (h *WSHandler) heartbeatLoop(session *wsSession) {
	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-session.done:
			return
		case <-ticker.C:
			if err := session.writeFrame(serverFrame{
				Type:      frameHeartbeat,
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendError(session *wsSession, msg string) {
	_ = session.writeFrame(serverFrame{
		Type:      frameError,
		Error:     msg,
		Timestamp: time.Now(),
	})
}

// teardown removes every subscription bound to the session and closes the
// socket. Safe to call more than once.
func (h *WSHandler) teardown(session *wsSession) {
	session.closeOnce.Do(func() {
		close(session.done)

		session.subsMu.Lock()
		subs := make([]*Subscription, 0, len(session.subs))
		for _, sub := range session.subs {
			subs = append(subs, sub)
		}
		session.subs = make(map[string]*Subscription)
		session.subsMu.Unlock()

		for _, sub := range subs {
			sub.Unsubscribe()
		}
		h.registry.Remove(session.connection.ID)
		_ = session.conn.Close()
		h.logger.Debug("websocket session closed", "connectionId", session.connection.ID)
	})
}
