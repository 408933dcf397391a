// Package engine composes the delivery queue, the correlation tracker, and
// the transport hub behind the streaming facade: publish, subscribe,
// unsubscribe, and stats.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/correlate"
	"github.com/c360/entitystream/errors"
	"github.com/c360/entitystream/event"
	"github.com/c360/entitystream/metric"
	"github.com/c360/entitystream/natsclient"
	"github.com/c360/entitystream/queue"
	"github.com/c360/entitystream/transport"
)

// Result statuses reported to producers.
const (
	ResultQueued    = "queued"
	ResultDelivered = "delivered"
	ResultRetrying  = "retrying"
	ResultFailed    = "failed"
)

// PublishOptions controls delivery of one published event.
type PublishOptions struct {
	Priority   event.Priority    `json:"priority,omitempty"`
	Guaranteed bool              `json:"guaranteed,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DeliveryResult is returned to the producer after publish.
type DeliveryResult struct {
	EventID    string    `json:"eventId"`
	DeliveryID string    `json:"deliveryId"`
	Status     string    `json:"status"` // queued, delivered, retrying, failed
	Timestamp  time.Time `json:"timestamp"`
}

// Stats is the engine-level observability surface.
type Stats struct {
	TotalQueued       int64                `json:"totalQueued"`
	TotalDelivered    int64                `json:"totalDelivered"`
	TotalFailed       int64                `json:"totalFailed"`
	Throughput        float64              `json:"throughput"`
	QueueSizes        map[string]int       `json:"queueSizes"`
	SubscribersByType map[string]int       `json:"subscribersByType"`
	RecentActivity    []transport.Activity `json:"recentActivity"`
	Tracker           correlate.Stats      `json:"tracker"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.With("component", "engine")
		}
	}
}

// WithMetrics wires all subsystem metrics into the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(e *Engine) {
		e.metrics = registry
	}
}

// WithBus connects the engine to an inter-process NATS bus. Delivered
// events are published to `events.<entityType>` and derived insights to
// `insights.<entityType>`.
func WithBus(bus *natsclient.Client) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// Engine is the streaming facade. Publishing an event drives the
// guaranteed-delivery path (queue) and the analysis path (tracker) in
// parallel; the queue's transport fans delivered events to the hub and the
// optional bus.
type Engine struct {
	cfg *config.Config

	queue    *queue.DeliveryQueue
	hub      *transport.Hub
	registry *transport.Registry
	tracker  *correlate.Tracker
	bus      *natsclient.Client

	logger  *slog.Logger
	metrics *metric.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles an engine from configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Engine{
		cfg:    cfg,
		logger: slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	hub, err := transport.NewHub(cfg.Buffer, cfg.Transport,
		transport.WithLogger(e.logger), transport.WithMetrics(e.metrics))
	if err != nil {
		return nil, err
	}
	e.hub = hub
	e.registry = transport.NewRegistry(hub, cfg.Transport,
		transport.WithRegistryLogger(e.logger),
		transport.WithRegistryMetrics(e.metrics))

	tracker, err := correlate.NewTracker(cfg.Tracker.HistorySize,
		correlate.WithLogger(e.logger), correlate.WithMetrics(e.metrics))
	if err != nil {
		return nil, err
	}
	e.tracker = tracker

	q, err := queue.New(queue.TransportFunc(e.deliver), cfg.Queue,
		queue.WithLogger(e.logger), queue.WithMetrics(e.metrics))
	if err != nil {
		return nil, err
	}
	e.queue = q

	return e, nil
}

// Start launches the queue flush loops, the connection maintenance loops,
// and the signal consumer.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.queue.Start(ctx)
	e.registry.Start(ctx)

	e.wg.Add(1)
	go e.consumeSignals(ctx)
}

// Stop shuts the engine down: queue first so no new deliveries reach the
// hub, then the connection registry and the hub itself.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.queue.Stop()
	e.registry.Stop()
	e.hub.Close()
	e.wg.Wait()
}

// Publish accepts an event for distribution. A missing id is assigned, a
// missing timestamp is stamped. The analysis path runs in parallel with the
// guaranteed path; the returned result reflects the delivery status after
// any synchronous first attempt.
func (e *Engine) Publish(ctx context.Context, ev *event.Event, opts *PublishOptions) (DeliveryResult, error) {
	if ev == nil {
		return DeliveryResult{}, errors.WrapInvalid(errors.ErrInvalidEvent, "Engine", "Publish",
			"nil event")
	}
	if ev.EntityType == "" || ev.EventType == "" {
		return DeliveryResult{}, errors.WrapInvalid(errors.ErrInvalidEvent, "Engine", "Publish",
			"entityType and eventType are required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if opts == nil {
		opts = &PublishOptions{}
	}

	// Analysis path: independent of delivery, never blocks the producer.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.analyze(ev)
	}()

	deliveryID, err := e.queue.Enqueue(ctx, ev, queue.Options{
		Priority:   opts.Priority,
		Guaranteed: opts.Guaranteed,
		Metadata:   opts.Metadata,
	})
	if err != nil {
		return DeliveryResult{}, err
	}

	status := ResultQueued
	if st, stErr := e.queue.Status(ev.ID); stErr == nil {
		status = resultStatus(st.Status)
	}

	return DeliveryResult{
		EventID:    ev.ID,
		DeliveryID: deliveryID,
		Status:     status,
		Timestamp:  time.Now(),
	}, nil
}

// Subscribe registers a live subscriber on the hub.
func (e *Engine) Subscribe(filter event.Filter, callback transport.Callback) (*transport.Subscription, error) {
	return e.hub.Subscribe(filter, callback)
}

// Unsubscribe removes a subscription by id. Idempotent.
func (e *Engine) Unsubscribe(id string) {
	e.hub.Unsubscribe(id)
}

// UpdateFilters replaces the filter of an existing subscription.
func (e *Engine) UpdateFilters(id string, f event.Filter) error {
	return e.hub.UpdateFilter(id, f)
}

// Status reports the delivery state of a published event.
func (e *Engine) Status(eventID string) (queue.ItemStatus, error) {
	return e.queue.Status(eventID)
}

// Stats aggregates the observability surface across subsystems.
func (e *Engine) Stats() Stats {
	qs := e.queue.Stats()
	return Stats{
		TotalQueued:       qs.TotalQueued,
		TotalDelivered:    qs.TotalDelivered,
		TotalFailed:       qs.TotalFailed,
		Throughput:        qs.Throughput,
		QueueSizes:        qs.QueueSizes,
		SubscribersByType: e.hub.SubscribersByType(),
		RecentActivity:    e.hub.RecentActivity(10),
		Tracker:           e.tracker.Stats(),
	}
}

// Hub exposes the fan-out hub for the transport handlers.
func (e *Engine) Hub() *transport.Hub {
	return e.hub
}

// Registry exposes the connection registry for the transport handlers.
func (e *Engine) Registry() *transport.Registry {
	return e.registry
}

// Tracker exposes the correlation tracker.
func (e *Engine) Tracker() *correlate.Tracker {
	return e.tracker
}

// deliver is the queue's transport binding: local fan-out plus optional bus
// publish. Local fan-out is best-effort and never fails the delivery; a bus
// publish failure does, so guaranteed items get retried.
func (e *Engine) deliver(ctx context.Context, ev *event.Event) error {
	e.hub.Publish(ev)

	if e.bus == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "Engine", "deliver", "marshal event")
	}
	return e.bus.Publish("events."+ev.EntityType, data)
}

// analyze runs the correlation path for one event and fans derived insights
// out to the bus.
func (e *Engine) analyze(ev *event.Event) {
	findings := e.tracker.Track(ev)
	insights := correlate.Insights(ev, findings)
	if len(insights) == 0 {
		return
	}

	e.logger.Debug("insights derived", "eventId", ev.ID, "count", len(insights))

	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"eventId":    ev.ID,
		"entityType": ev.EntityType,
		"entityId":   ev.EntityID(),
		"insights":   insights,
		"timestamp":  time.Now(),
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish("insights."+ev.EntityType, payload); err != nil {
		e.logger.Warn("insight publish failed", "eventId", ev.ID, "error", err)
	}
}

// consumeSignals turns terminal failure signals into observability events:
// a `failed` event is fanned out locally so monitoring subscribers see it.
func (e *Engine) consumeSignals(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-e.queue.Signals():
			if s.Type != queue.SignalFailed {
				continue
			}
			e.hub.Publish(&event.Event{
				ID:         uuid.NewString(),
				EntityType: "delivery",
				EventType:  event.TypeFailed,
				Timestamp:  s.Timestamp,
				Source:     "entitystream",
				Data: map[string]any{
					"entityId":   s.DeliveryID,
					"eventId":    s.EventID,
					"error":      s.Error,
					"retryCount": s.RetryCount,
				},
			})
		}
	}
}

func resultStatus(s event.DeliveryStatus) string {
	switch s {
	case event.StatusDelivered:
		return ResultDelivered
	case event.StatusRetrying:
		return ResultRetrying
	case event.StatusFailed:
		return ResultFailed
	default:
		return ResultQueued
	}
}
