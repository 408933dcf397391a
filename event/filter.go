package event

import (
	"strings"
	"time"
)

// Filter is a subscription's interest specification. An empty dimension
// matches everything; populated dimensions are ANDed. Matching is total:
// unknown entity or event types in a populated list simply never match.
type Filter struct {
	EntityTypes []string   `json:"entityTypes,omitempty"`
	EventTypes  []string   `json:"eventTypes,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Until       *time.Time `json:"until,omitempty"`
}

// Matches evaluates the filter against an event.
func (f Filter) Matches(e *Event) bool {
	if e == nil {
		return false
	}
	if !matchesAny(f.EntityTypes, e.EntityType) {
		return false
	}
	if !matchesAny(f.EventTypes, e.EventType) {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// IsEmpty reports whether the filter matches every event.
func (f Filter) IsEmpty() bool {
	return len(f.EntityTypes) == 0 && len(f.EventTypes) == 0 &&
		f.Since == nil && f.Until == nil
}

// matchesAny returns true when the list is empty or contains value.
func matchesAny(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// ParseFilterList splits a comma-separated query parameter into filter
// values, dropping empty entries. Used by the SSE and WebSocket surfaces.
func ParseFilterList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
