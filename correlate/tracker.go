package correlate

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360/entitystream/event"
	"github.com/c360/entitystream/metric"
	"github.com/c360/entitystream/pkg/buffer"
)

// DefaultHistorySize bounds the global rolling event history.
const DefaultHistorySize = 10000

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithDetectors replaces the default detector set.
func WithDetectors(detectors []Detector) TrackerOption {
	return func(t *Tracker) {
		t.detectors = detectors
	}
}

// WithMetrics wires finding counters into the metrics registry.
func WithMetrics(registry *metric.Registry) TrackerOption {
	return func(t *Tracker) {
		t.metrics = registry
	}
}

// WithLogger sets the tracker's logger.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger.With("component", "correlation-tracker")
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker maintains the bounded rolling event history and the correlation
// groups derived from it. All state is owned by the tracker and mutated
// only under its lock; detectors operate on snapshot copies.
type Tracker struct {
	mu      sync.RWMutex
	history *buffer.Ring[*event.Event]
	groups  map[string]*Group

	detectors []Detector
	metrics   *metric.Registry
	logger    *slog.Logger
	now       func() time.Time

	eventsTracked int64
}

// NewTracker creates a tracker with the given history bound.
func NewTracker(historySize int, opts ...TrackerOption) (*Tracker, error) {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	t := &Tracker{
		groups:    make(map[string]*Group),
		detectors: DefaultDetectors(),
		logger:    slog.Default().With("component", "correlation-tracker"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	// The drop callback runs synchronously inside Track's critical section
	// (the ring is only appended to under t.mu), so it mutates groups
	// without taking the lock again.
	ring, err := buffer.NewRing[*event.Event](historySize,
		buffer.WithDropCallback[*event.Event](t.evictFromGroup),
	)
	if err != nil {
		return nil, err
	}
	t.history = ring

	return t, nil
}

// Track appends the event to the global history and its correlation group,
// re-runs intra-group pattern analysis, and evaluates all detectors.
// Returned findings include any newly recorded group pattern.
func (t *Tracker) Track(e *event.Event) []Finding {
	if e == nil {
		return nil
	}

	now := t.now()
	key := e.CorrelationKey()

	t.mu.Lock()
	t.history.Append(e)
	t.eventsTracked++

	g, ok := t.groups[key]
	if !ok {
		g = &Group{
			Key:        key,
			EntityType: e.EntityType,
			EntityID:   e.EntityID(),
			StartTime:  now,
		}
		t.groups[key] = g
	}
	g.Events = append(g.Events, e)
	g.LastUpdate = now

	var findings []Finding
	if pattern, ok := t.analyzeGroupLocked(g, now); ok {
		findings = append(findings, pattern)
	}

	view := EntityView{
		Key:    key,
		Events: append([]*event.Event(nil), g.Events...),
		Now:    now,
	}
	t.mu.Unlock()

	for _, d := range t.detectors {
		if f, ok := d.Evaluate(e, view); ok {
			findings = append(findings, f)
		}
	}

	for _, f := range findings {
		if t.metrics != nil {
			t.metrics.Core().FindingsTotal.WithLabelValues(string(f.Kind), f.Type).Inc()
		}
		t.logger.Debug("finding detected",
			"kind", f.Kind, "type", f.Type, "entity", f.EntityKey, "confidence", f.Confidence)
	}

	return findings
}

// analyzeGroupLocked runs intra-group pattern analysis. A complex_workflow
// pattern is recorded when the group spans at least three distinct event
// types, and re-recorded only when the diversity grows. Caller holds t.mu.
func (t *Tracker) analyzeGroupLocked(g *Group, now time.Time) (Finding, bool) {
	if len(g.Events) < 2 {
		return Finding{}, false
	}

	seen := make(map[string]bool, len(g.Events))
	sequence := make([]string, 0, len(g.Events))
	for _, e := range g.Events {
		if !seen[e.EventType] {
			seen[e.EventType] = true
			sequence = append(sequence, e.EventType)
		}
	}

	if len(sequence) < workflowMinTypes || len(sequence) <= g.workflowDiversity {
		return Finding{}, false
	}
	g.workflowDiversity = len(sequence)

	pattern := Finding{
		Kind:       KindPattern,
		Type:       "complex_workflow",
		Confidence: 0.8,
		Description: fmt.Sprintf("entity %s shows a complex workflow: %s",
			g.Key, strings.Join(sequence, " -> ")),
		EntityKey: g.Key,
		Timestamp: now,
	}
	g.Patterns = append(g.Patterns, pattern)
	return pattern, true
}

// evictFromGroup removes a history-evicted event from its group sequence.
// Called only from within Track's critical section.
func (t *Tracker) evictFromGroup(e *event.Event) {
	g, ok := t.groups[e.CorrelationKey()]
	if !ok {
		return
	}
	for i, ge := range g.Events {
		if ge.ID == e.ID {
			g.Events = append(g.Events[:i], g.Events[i+1:]...)
			return
		}
	}
}

// Group returns a copy of the correlation group for key, if present.
func (t *Tracker) Group(key string) (Group, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	g, ok := t.groups[key]
	if !ok {
		return Group{}, false
	}
	out := *g
	out.Events = append([]*event.Event(nil), g.Events...)
	out.Patterns = append([]Finding(nil), g.Patterns...)
	return out, true
}

// Stats summarizes tracker state.
type Stats struct {
	EventsTracked int64 `json:"eventsTracked"`
	HistorySize   int   `json:"historySize"`
	GroupCount    int   `json:"groupCount"`
	PatternCount  int   `json:"patternCount"`
}

// Stats returns a snapshot of tracker counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	patterns := 0
	for _, g := range t.groups {
		patterns += len(g.Patterns)
	}
	return Stats{
		EventsTracked: t.eventsTracked,
		HistorySize:   t.history.Len(),
		GroupCount:    len(t.groups),
		PatternCount:  patterns,
	}
}
