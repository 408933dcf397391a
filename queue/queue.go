// Package queue implements the guaranteed-delivery queue: per-destination
// FIFO queues keyed by entityType-priority, synchronous fast-path delivery
// for urgent items, debounced batch flushing for the rest, and exponential
// backoff retry for guaranteed items.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/errors"
	"github.com/c360/entitystream/event"
	"github.com/c360/entitystream/metric"
	"github.com/c360/entitystream/pkg/retry"
)

// Transport is the delivery primitive the queue drives. The engine binds it
// to bus publish plus local fan-out.
type Transport interface {
	Deliver(ctx context.Context, e *event.Event) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, e *event.Event) error

// Deliver implements Transport.
func (f TransportFunc) Deliver(ctx context.Context, e *event.Event) error {
	return f(ctx, e)
}

// Options controls how a single event is enqueued.
type Options struct {
	Priority   event.Priority
	Guaranteed bool
	Metadata   map[string]string
}

// ItemStatus is the externally visible delivery state of one queued event.
type ItemStatus struct {
	DeliveryID string               `json:"deliveryId"`
	Status     event.DeliveryStatus `json:"status"`
	RetryCount int                  `json:"retryCount"`
	LastError  string               `json:"lastError,omitempty"`
}

// Stats aggregates queue counters and approximate throughput.
type Stats struct {
	TotalQueued    int64          `json:"totalQueued"`
	TotalDelivered int64          `json:"totalDelivered"`
	TotalFailed    int64          `json:"totalFailed"`
	Throughput     float64        `json:"throughput"` // deliveries/sec over the last flush window
	QueueSizes     map[string]int `json:"queueSizes"`
}

// Option configures a DeliveryQueue.
type Option func(*DeliveryQueue)

// WithLogger sets the queue's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *DeliveryQueue) {
		if logger != nil {
			q.logger = logger.With("component", "delivery-queue")
		}
	}
}

// WithMetrics wires queue counters into the metrics registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(q *DeliveryQueue) {
		q.metrics = registry
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(q *DeliveryQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// DeliveryQueue owns the per-destination queues and all delivery
// bookkeeping. Items are owned exclusively by the queue; Status and Stats
// return copies. Delivery of any given item is single-flight: an item is
// claimed under the queue mutex before its attempt starts.
type DeliveryQueue struct {
	mu       sync.Mutex
	queues   map[string][]*event.QueuedEvent // destination -> pending/retrying items, enqueue order
	terminal []*event.QueuedEvent            // delivered/failed items retained for status queries
	inflight map[string]bool                 // deliveryID -> attempt in progress

	debounce    map[string]*time.Timer // destination -> pending debounce flush
	retryTimers map[string]*time.Timer // deliveryID -> scheduled retry

	transport Transport
	cfg       config.QueueConfig
	signals   chan Signal

	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	totalQueued     int64
	totalDelivered  int64
	totalFailed     int64
	windowDelivered int64 // deliveries since the last flush tick
	throughput      float64
}

// New creates a delivery queue driving the given transport. Start must be
// called before the periodic flush and cleanup loops run; Enqueue works
// immediately.
func New(transport Transport, cfg config.QueueConfig, opts ...Option) (*DeliveryQueue, error) {
	if transport == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "DeliveryQueue", "New",
			"nil transport")
	}
	if cfg.BatchSize <= 0 || cfg.FlushInterval <= 0 || cfg.RetryDelay <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "DeliveryQueue", "New",
			"batch size, flush interval, and retry delay must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &DeliveryQueue{
		queues:      make(map[string][]*event.QueuedEvent),
		inflight:    make(map[string]bool),
		debounce:    make(map[string]*time.Timer),
		retryTimers: make(map[string]*time.Timer),
		transport:   transport,
		cfg:         cfg,
		signals:     make(chan Signal, 256),
		logger:      slog.Default().With("component", "delivery-queue"),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Start launches the periodic flush tick and the cleanup sweep. The flush
// tick guarantees forward progress for every non-empty queue regardless of
// debounce state.
func (q *DeliveryQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.ctx.Done():
				return
			case <-ticker.C:
				q.flushAll()
				q.sweep()
			}
		}
	}()
}

// Stop cancels pending timers and loops and waits for in-flight work.
// Subsequent Enqueue calls fail with ErrQueueClosed.
func (q *DeliveryQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for dest, t := range q.debounce {
		t.Stop()
		delete(q.debounce, dest)
	}
	for id, t := range q.retryTimers {
		t.Stop()
		delete(q.retryTimers, id)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// Signals returns the queue's delivery signal channel. Emission is
// non-blocking: when the channel is full, signals are dropped (metrics and
// logs remain authoritative).
func (q *DeliveryQueue) Signals() <-chan Signal {
	return q.signals
}

// Enqueue places an event on its destination queue and returns the delivery
// id. High-priority and first-in-queue items get a synchronous first attempt;
// the call returns after that attempt completes, success or not. Everything
// else is picked up by the debounce timer or the periodic flush.
func (q *DeliveryQueue) Enqueue(ctx context.Context, e *event.Event, opts Options) (string, error) {
	if e == nil {
		return "", errors.WrapInvalid(errors.ErrInvalidEvent, "DeliveryQueue", "Enqueue",
			"nil event")
	}
	priority := opts.Priority
	if priority == "" {
		priority = event.PriorityNormal
	}
	if !priority.Valid() {
		return "", errors.WrapInvalid(errors.ErrInvalidEvent, "DeliveryQueue", "Enqueue",
			"unrecognized priority "+string(priority))
	}

	qe := &event.QueuedEvent{
		DeliveryID: uuid.NewString(),
		Event:      e,
		Priority:   priority,
		Guaranteed: opts.Guaranteed,
		Metadata:   opts.Metadata,
		Status:     event.StatusPending,
		QueuedAt:   q.now(),
	}
	dest := destination(e.EntityType, priority)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", errors.Wrap(errors.ErrQueueClosed, "DeliveryQueue", "Enqueue", "enqueue event")
	}
	q.queues[dest] = append(q.queues[dest], qe)
	q.totalQueued++
	firstInQueue := len(q.queues[dest]) == 1
	immediate := priority == event.PriorityHigh || firstInQueue
	if immediate {
		q.inflight[qe.DeliveryID] = true
	}
	q.updateDepthLocked(dest)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.Core().EventsPublished.WithLabelValues(e.EntityType, e.EventType).Inc()
	}

	if immediate {
		q.attempt(ctx, qe, dest)
	} else {
		q.armDebounce(dest)
	}
	return qe.DeliveryID, nil
}

// Status finds an event by id across live queues and the retention list.
// Linear scan; queue sizes are bounded.
func (q *DeliveryQueue) Status(eventID string) (ItemStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, items := range q.queues {
		for _, qe := range items {
			if qe.Event.ID == eventID {
				return statusOf(qe), nil
			}
		}
	}
	for _, qe := range q.terminal {
		if qe.Event.ID == eventID {
			return statusOf(qe), nil
		}
	}
	return ItemStatus{}, errors.Wrap(errors.ErrEventNotFound, "DeliveryQueue", "Status",
		"look up event "+eventID)
}

// Stats returns aggregate counters, per-queue sizes, and the approximate
// throughput observed over the last flush window.
func (q *DeliveryQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	sizes := make(map[string]int, len(q.queues))
	for dest, items := range q.queues {
		if len(items) > 0 {
			sizes[dest] = len(items)
		}
	}
	return Stats{
		TotalQueued:    q.totalQueued,
		TotalDelivered: q.totalDelivered,
		TotalFailed:    q.totalFailed,
		Throughput:     q.throughput,
		QueueSizes:     sizes,
	}
}

// armDebounce schedules a short-delay flush for dest unless one is already
// pending.
func (q *DeliveryQueue) armDebounce(dest string) {
	if q.cfg.Debounce <= 0 {
		q.flushQueue(dest)
		return
	}
	q.mu.Lock()
	if q.closed || q.debounce[dest] != nil {
		q.mu.Unlock()
		return
	}
	q.debounce[dest] = time.AfterFunc(q.cfg.Debounce, func() {
		q.mu.Lock()
		delete(q.debounce, dest)
		q.mu.Unlock()
		q.flushQueue(dest)
	})
	q.mu.Unlock()
}

// flushAll flushes every non-empty queue and rolls the throughput window.
func (q *DeliveryQueue) flushAll() {
	q.mu.Lock()
	dests := make([]string, 0, len(q.queues))
	for dest, items := range q.queues {
		if len(items) > 0 {
			dests = append(dests, dest)
		}
	}
	q.throughput = float64(q.windowDelivered) / q.cfg.FlushInterval.Seconds()
	q.windowDelivered = 0
	q.mu.Unlock()

	for _, dest := range dests {
		q.flushQueue(dest)
	}
}

// flushQueue claims up to batchSize deliverable items from dest and attempts
// them concurrently. Items already in flight or waiting on a retry timer are
// skipped. One batchProcessed signal summarizes the batch.
func (q *DeliveryQueue) flushQueue(dest string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	batch := make([]*event.QueuedEvent, 0, q.cfg.BatchSize)
	for _, qe := range q.queues[dest] {
		if len(batch) >= q.cfg.BatchSize {
			break
		}
		if qe.Status != event.StatusPending || q.inflight[qe.DeliveryID] {
			continue
		}
		q.inflight[qe.DeliveryID] = true
		batch = append(batch, qe)
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var succeeded, failed int64
	var cnt sync.Mutex
	g, ctx := errgroup.WithContext(q.ctx)
	for _, qe := range batch {
		g.Go(func() error {
			ok := q.attempt(ctx, qe, dest)
			cnt.Lock()
			if ok {
				succeeded++
			} else {
				failed++
			}
			cnt.Unlock()
			return nil
		})
	}
	_ = g.Wait() // attempts report outcomes via signals, never group errors

	q.emit(Signal{
		Type:        SignalBatchProcessed,
		Destination: dest,
		BatchSize:   len(batch),
		Succeeded:   int(succeeded),
		Failed:      int(failed),
		Timestamp:   q.now(),
	})
	q.logger.Debug("batch processed",
		"destination", dest, "size", len(batch), "succeeded", succeeded, "failed", failed)
}

// attempt runs one delivery attempt and applies the outcome. Returns true
// when the item was delivered. The caller must have claimed the item
// (inflight flag) before calling.
func (q *DeliveryQueue) attempt(ctx context.Context, qe *event.QueuedEvent, dest string) bool {
	start := q.now()
	err := q.transport.Deliver(ctx, qe.Event)
	elapsed := time.Since(start)

	if q.metrics != nil {
		q.metrics.Core().DeliveryDuration.WithLabelValues(dest).Observe(elapsed.Seconds())
	}

	if err == nil {
		q.markDelivered(qe, dest)
		return true
	}
	q.markFailedAttempt(qe, dest, err)
	return false
}

func (q *DeliveryQueue) markDelivered(qe *event.QueuedEvent, dest string) {
	now := q.now()

	q.mu.Lock()
	delete(q.inflight, qe.DeliveryID)
	qe.Status = event.StatusDelivered
	qe.LastAttempt = now
	qe.DeliveredAt = now
	qe.LastError = ""
	q.removeFromQueueLocked(dest, qe)
	q.terminal = append(q.terminal, qe)
	q.totalDelivered++
	q.windowDelivered++
	q.updateDepthLocked(dest)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.Core().EventsDelivered.WithLabelValues(dest).Inc()
	}
	q.emit(Signal{
		Type:        SignalDelivered,
		DeliveryID:  qe.DeliveryID,
		EventID:     qe.Event.ID,
		Destination: dest,
		RetryCount:  qe.RetryCount,
		Timestamp:   now,
	})
	q.logger.Debug("event delivered",
		"deliveryId", qe.DeliveryID, "eventId", qe.Event.ID, "destination", dest,
		"retries", qe.RetryCount)
}

// markFailedAttempt applies one failed attempt: guaranteed items under the
// retry budget are rescheduled in place via timer with exponential backoff;
// everything else fails terminally.
func (q *DeliveryQueue) markFailedAttempt(qe *event.QueuedEvent, dest string, attemptErr error) {
	now := q.now()

	q.mu.Lock()
	delete(q.inflight, qe.DeliveryID)
	qe.LastAttempt = now
	qe.LastError = attemptErr.Error()

	if qe.Guaranteed && qe.RetryCount < q.cfg.MaxRetries && !q.closed {
		qe.RetryCount++
		qe.Status = event.StatusRetrying
		delay := retry.BackoffFor(qe.RetryCount, q.cfg.RetryDelay, q.cfg.MaxRetryDelay)
		// Rescheduled in place: the item keeps its queue position and is
		// delivered by the timer, not re-enqueued at the tail.
		q.retryTimers[qe.DeliveryID] = time.AfterFunc(delay, func() {
			q.runRetry(qe, dest)
		})
		retryCount := qe.RetryCount
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.Core().DeliveryRetries.Inc()
		}
		q.logger.Warn("delivery failed, retry scheduled",
			"deliveryId", qe.DeliveryID, "eventId", qe.Event.ID, "destination", dest,
			"attempt", retryCount, "delay", delay, "error", attemptErr)
		return
	}

	qe.Status = event.StatusFailed
	q.removeFromQueueLocked(dest, qe)
	q.terminal = append(q.terminal, qe)
	q.totalFailed++
	q.updateDepthLocked(dest)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.Core().DeliveriesFailed.WithLabelValues(dest).Inc()
	}
	q.emit(Signal{
		Type:        SignalFailed,
		DeliveryID:  qe.DeliveryID,
		EventID:     qe.Event.ID,
		Destination: dest,
		RetryCount:  qe.RetryCount,
		Error:       attemptErr.Error(),
		Timestamp:   now,
	})
	q.logger.Error("delivery failed terminally",
		"deliveryId", qe.DeliveryID, "eventId", qe.Event.ID, "destination", dest,
		"retries", qe.RetryCount, "error", attemptErr)
}

// runRetry fires from the retry timer: re-claim the item and attempt again.
func (q *DeliveryQueue) runRetry(qe *event.QueuedEvent, dest string) {
	q.mu.Lock()
	delete(q.retryTimers, qe.DeliveryID)
	if q.closed || qe.Status.Terminal() || q.inflight[qe.DeliveryID] {
		q.mu.Unlock()
		return
	}
	q.inflight[qe.DeliveryID] = true
	q.mu.Unlock()

	q.attempt(q.ctx, qe, dest)
}

// sweep drops delivered items older than the retention window and all
// terminal failures from the retention list.
func (q *DeliveryQueue) sweep() {
	cutoff := q.now().Add(-q.cfg.Retention)

	q.mu.Lock()
	kept := q.terminal[:0]
	removed := 0
	for _, qe := range q.terminal {
		expired := qe.Status == event.StatusFailed ||
			(qe.Status == event.StatusDelivered && qe.DeliveredAt.Before(cutoff))
		if expired {
			removed++
			continue
		}
		kept = append(kept, qe)
	}
	q.terminal = kept
	q.mu.Unlock()

	if removed > 0 {
		q.logger.Debug("cleanup sweep", "removed", removed)
	}
}

// removeFromQueueLocked unlinks qe from its destination queue, preserving
// order of the remaining items. Caller holds q.mu.
func (q *DeliveryQueue) removeFromQueueLocked(dest string, qe *event.QueuedEvent) {
	items := q.queues[dest]
	for i, it := range items {
		if it.DeliveryID == qe.DeliveryID {
			q.queues[dest] = append(items[:i], items[i+1:]...)
			return
		}
	}
}

func (q *DeliveryQueue) updateDepthLocked(dest string) {
	if q.metrics != nil {
		q.metrics.Core().QueueDepth.WithLabelValues(dest).Set(float64(len(q.queues[dest])))
	}
}

func (q *DeliveryQueue) emit(s Signal) {
	select {
	case q.signals <- s:
	default:
		q.logger.Debug("signal dropped", "type", s.Type)
	}
}

func statusOf(qe *event.QueuedEvent) ItemStatus {
	return ItemStatus{
		DeliveryID: qe.DeliveryID,
		Status:     qe.Status,
		RetryCount: qe.RetryCount,
		LastError:  qe.LastError,
	}
}

func destination(entityType string, p event.Priority) string {
	return entityType + "-" + string(p)
}
