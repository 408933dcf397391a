// Package correlate groups events by entity identity, detects multi-step
// workflow patterns, error bursts, and statistical outliers, and derives
// human-readable insights from the findings.
package correlate

import (
	"time"

	"github.com/c360/entitystream/event"
)

// Kind discriminates the finding categories produced by the engine.
type Kind string

// Finding kinds.
const (
	KindPattern     Kind = "pattern"
	KindCorrelation Kind = "correlation"
	KindAnomaly     Kind = "anomaly"
)

// Severity grades anomaly findings.
type Severity string

// Anomaly severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is a pattern, correlation, or anomaly derived for one event.
// Findings are not stored beyond the analysis pass that produced them,
// except patterns attached to their correlation group for later reporting.
type Finding struct {
	Kind        Kind      `json:"kind"`
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity,omitempty"`
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description"`
	EntityKey   string    `json:"entityKey"`
	Timestamp   time.Time `json:"timestamp"`
}

// Group is the ordered event history for one specific entity instance.
// The event sequence is append-ordered; timestamps are non-decreasing by
// insertion, not re-sorted.
type Group struct {
	Key        string          `json:"key"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Events     []*event.Event  `json:"events"`
	StartTime  time.Time       `json:"startTime"`
	LastUpdate time.Time       `json:"lastUpdate"`
	Patterns   []Finding       `json:"patterns,omitempty"`

	// workflowDiversity is the distinct-type count at the last recorded
	// complex_workflow pattern; a new pattern is recorded only when the
	// diversity grows past it.
	workflowDiversity int
}

// EntityView is the snapshot of one entity's event history handed to
// detectors. It is a copy taken under the tracker's lock; detectors never
// see concurrent mutation.
type EntityView struct {
	Key    string
	Events []*event.Event // arrival order, including the event under evaluation
	Now    time.Time
}

// Since returns the view's events with timestamps at or after t,
// preserving arrival order.
func (v EntityView) Since(t time.Time) []*event.Event {
	out := make([]*event.Event, 0, len(v.Events))
	for _, e := range v.Events {
		if !e.Timestamp.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// DistinctTypes returns the event types seen in the view, in order of
// first occurrence.
func (v EntityView) DistinctTypes() []string {
	seen := make(map[string]bool, len(v.Events))
	out := make([]string, 0, len(v.Events))
	for _, e := range v.Events {
		if !seen[e.EventType] {
			seen[e.EventType] = true
			out = append(out, e.EventType)
		}
	}
	return out
}
