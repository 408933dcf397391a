// Package transport fans events out to live subscribers over WebSocket and
// SSE surfaces, replays recently buffered events to new subscribers, and
// maintains the live connection registry.
package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/errors"
	"github.com/c360/entitystream/event"
	"github.com/c360/entitystream/metric"
	"github.com/c360/entitystream/pkg/buffer"
)

// Callback receives one event for one subscriber. Errors and panics are
// isolated per subscriber: they are logged and never affect other
// subscribers or the guaranteed-delivery path.
type Callback func(e *event.Event) error

// Subscription is the handle returned to a subscriber.
type Subscription struct {
	ID  string
	hub *Hub
}

// Unsubscribe removes the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.hub.Unsubscribe(s.ID)
}

// UpdateFilter replaces the subscription's filter. Applies to events
// published after the call; already-buffered deliveries are unaffected.
func (s *Subscription) UpdateFilter(f event.Filter) error {
	return s.hub.UpdateFilter(s.ID, f)
}

// subscriber is the hub-internal state for one subscription. Live events
// flow through the bounded channel to a dedicated delivery goroutine, which
// first drains the replay snapshot so buffered events always precede live
// ones for this subscriber.
type subscriber struct {
	id       string
	callback Callback

	filterMu sync.RWMutex
	filter   event.Filter

	ch        chan *event.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) matches(e *event.Event) bool {
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	return s.filter.Matches(e)
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger.With("component", "transport-hub")
		}
	}
}

// WithMetrics wires fan-out gauges and counters into the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(h *Hub) {
		h.metrics = registry
	}
}

// Hub is the fan-out core: a subscriber registry plus the bounded replay
// buffer of recent events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	replay *buffer.Ring[*event.Event]

	cfg     config.TransportConfig
	logger  *slog.Logger
	metrics *metric.Registry

	wg sync.WaitGroup

	eventsFanned int64
	dropped      int64
}

// NewHub creates a hub with a replay buffer bounded by bufCfg.
func NewHub(bufCfg config.BufferConfig, cfg config.TransportConfig, opts ...Option) (*Hub, error) {
	h := &Hub{
		subs:   make(map[string]*subscriber),
		cfg:    cfg,
		logger: slog.Default().With("component", "transport-hub"),
	}
	for _, opt := range opts {
		opt(h)
	}

	ringOpts := []buffer.Option[*event.Event]{}
	if bufCfg.MaxAge > 0 {
		ringOpts = append(ringOpts, buffer.WithMaxAge[*event.Event](bufCfg.MaxAge))
	}
	ring, err := buffer.NewRing[*event.Event](bufCfg.MaxSize, ringOpts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Hub", "NewHub", "create replay buffer")
	}
	h.replay = ring
	return h, nil
}

// Subscribe registers a callback for events matching filter. Buffered
// events matching the filter are replayed in arrival order, strictly before
// any event published after this call.
func (h *Hub) Subscribe(filter event.Filter, callback Callback) (*Subscription, error) {
	if callback == nil {
		return nil, errors.WrapInvalid(errors.ErrSubscriptionFailed, "Hub", "Subscribe",
			"nil callback")
	}

	sub := &subscriber{
		id:       uuid.NewString(),
		callback: callback,
		filter:   filter,
		ch:       make(chan *event.Event, h.subscriberBuffer()),
		done:     make(chan struct{}),
	}

	// Snapshot and registration happen under one lock acquisition so no
	// published event can fall between the replayed set and the live feed.
	h.mu.Lock()
	replayed := h.replay.Snapshot(func(e *event.Event) bool { return filter.Matches(e) })
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Core().SubscribersActive.Set(float64(count))
	}
	h.logger.Debug("subscriber registered", "subscriptionId", sub.id, "replay", len(replayed))

	h.wg.Add(1)
	go h.runSubscriber(sub, replayed)

	return &Subscription{ID: sub.id, hub: h}, nil
}

// Unsubscribe removes the subscription with the given id. Unknown ids are
// a no-op; repeated calls are safe.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.close()
	if h.metrics != nil {
		h.metrics.Core().SubscribersActive.Set(float64(count))
	}
	h.logger.Debug("subscriber removed", "subscriptionId", id)
}

// UpdateFilter replaces the filter of an existing subscription.
func (h *Hub) UpdateFilter(id string, f event.Filter) error {
	h.mu.RLock()
	sub, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return errors.Wrap(errors.ErrSubscriptionNotFound, "Hub", "UpdateFilter",
			"update filter for subscription "+id)
	}
	sub.filterMu.Lock()
	sub.filter = f
	sub.filterMu.Unlock()
	return nil
}

// Publish buffers the event for replay and fans it out to every matching
// subscriber. A subscriber whose channel is full has its oldest undelivered
// event dropped to make room; drops are counted, never blocking.
func (h *Hub) Publish(e *event.Event) {
	if e == nil {
		return
	}

	h.mu.Lock()
	h.replay.Append(e)
	h.eventsFanned++
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if !sub.matches(e) {
			continue
		}
		h.offer(sub, e)
	}
}

// offer enqueues e on the subscriber channel, dropping the oldest queued
// event when full.
func (h *Hub) offer(sub *subscriber, e *event.Event) {
	select {
	case sub.ch <- e:
		return
	default:
	}

	select {
	case <-sub.ch:
		h.countDrop()
	default:
	}
	select {
	case sub.ch <- e:
	default:
		h.countDrop()
	}
}

func (h *Hub) countDrop() {
	h.mu.Lock()
	h.dropped++
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.Core().FanoutDropped.Inc()
	}
}

// runSubscriber delivers the replay snapshot, then the live feed, in order.
func (h *Hub) runSubscriber(sub *subscriber, replayed []*event.Event) {
	defer h.wg.Done()

	for _, e := range replayed {
		select {
		case <-sub.done:
			return
		default:
		}
		h.deliver(sub, e)
	}

	for {
		select {
		case <-sub.done:
			return
		case e := <-sub.ch:
			h.deliver(sub, e)
		}
	}
}

// deliver invokes the callback with panic and error isolation.
func (h *Hub) deliver(sub *subscriber, e *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber callback panicked",
				"subscriptionId", sub.id, "eventId", e.ID, "panic", r)
		}
	}()
	if err := sub.callback(e); err != nil {
		h.logger.Warn("subscriber callback failed",
			"subscriptionId", sub.id, "eventId", e.ID, "error", err)
	}
}

// Close tears down every subscription and waits for delivery goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, sub := range h.subs {
		sub.close()
		delete(h.subs, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// SubscriberCount returns the number of registered subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// SubscribersByType counts subscriptions per entity type they filter on;
// subscriptions with no entity-type filter count under "all".
func (h *Hub) SubscribersByType() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int)
	for _, sub := range h.subs {
		sub.filterMu.RLock()
		types := sub.filter.EntityTypes
		sub.filterMu.RUnlock()
		if len(types) == 0 {
			out["all"]++
			continue
		}
		for _, t := range types {
			out[t]++
		}
	}
	return out
}

// Activity summarizes one recently distributed event.
type Activity struct {
	EventID    string    `json:"eventId"`
	EntityType string    `json:"entityType"`
	EventType  string    `json:"eventType"`
	Timestamp  time.Time `json:"timestamp"`
}

// RecentActivity returns summaries of the most recent n buffered events,
// newest last.
func (h *Hub) RecentActivity(n int) []Activity {
	h.mu.RLock()
	events := h.replay.Snapshot(nil)
	h.mu.RUnlock()

	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]Activity, 0, len(events))
	for _, e := range events {
		out = append(out, Activity{
			EventID:    e.ID,
			EntityType: e.EntityType,
			EventType:  e.EventType,
			Timestamp:  e.Timestamp,
		})
	}
	return out
}

// HubStats summarizes hub state.
type HubStats struct {
	Subscribers  int   `json:"subscribers"`
	BufferedSize int   `json:"bufferedSize"`
	EventsFanned int64 `json:"eventsFanned"`
	Dropped      int64 `json:"dropped"`
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Subscribers:  len(h.subs),
		BufferedSize: h.replay.Len(),
		EventsFanned: h.eventsFanned,
		Dropped:      h.dropped,
	}
}

func (h *Hub) subscriberBuffer() int {
	if h.cfg.SubscriberBuffer > 0 {
		return h.cfg.SubscriberBuffer
	}
	return 256
}
