package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/event"
)

// SSEHandler serves the unidirectional stream: newline-delimited JSON
// frames pushed over a long-lived response. Filters come from the
// `entityTypes` and `eventTypes` query parameters.
type SSEHandler struct {
	hub      *Hub
	registry *Registry
	cfg      config.TransportConfig
	logger   *slog.Logger
}

// NewSSEHandler creates the streaming endpoint handler.
func NewSSEHandler(hub *Hub, registry *Registry, cfg config.TransportConfig, logger *slog.Logger) *SSEHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{
		hub:      hub,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "sse-transport"),
	}
}

// sseFrame is one newline-delimited JSON frame on the stream.
type sseFrame struct {
	Type           string       `json:"type"`
	SubscriptionID string       `json:"subscriptionId,omitempty"`
	Event          *event.Event `json:"event,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// sseStream serializes writes to one response stream; event callbacks and
// the heartbeat ticker write concurrently.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
}

func (s *sseStream) write(f sseFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(f); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ServeHTTP streams matching events until the client disconnects, at which
// point the subscription is torn down.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := event.Filter{
		EntityTypes: event.ParseFilterList(r.URL.Query().Get("entityTypes")),
		EventTypes:  event.ParseFilterList(r.URL.Query().Get("eventTypes")),
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: w, flusher: flusher, enc: json.NewEncoder(w)}

	// The idle sweep has no socket to close for a stream, so it signals
	// through this channel instead.
	evicted := make(chan struct{})
	var evictOnce sync.Once
	conn := h.registry.Add("sse", func() {
		evictOnce.Do(func() { close(evicted) })
	})
	defer h.registry.Remove(conn.ID)

	sub, err := h.hub.Subscribe(filter, func(e *event.Event) error {
		conn.Touch()
		return stream.write(sseFrame{Type: frameEvent, Event: e, Timestamp: time.Now()})
	})
	if err != nil {
		h.logger.Warn("sse subscription failed", "error", err)
		return
	}
	defer sub.Unsubscribe()

	if err := stream.write(sseFrame{
		Type:           "connected",
		SubscriptionID: sub.ID,
		Timestamp:      time.Now(),
	}); err != nil {
		return
	}
	h.logger.Debug("sse stream opened",
		"connectionId", conn.ID, "subscriptionId", sub.ID)

	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("sse stream closed", "connectionId", conn.ID)
			return
		case <-evicted:
			h.logger.Debug("sse stream evicted as idle", "connectionId", conn.ID)
			return
		case <-ticker.C:
			if err := stream.write(sseFrame{Type: frameHeartbeat, Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}
