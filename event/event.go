// Package event defines the core event model for entitystream: lifecycle
// events for typed domain entities, delivery bookkeeping wrappers, and the
// filter predicate used by every distribution component.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/c360/entitystream/errors"
)

// EntityType identifies the kind of domain entity an event refers to.
// The set is open: producers may emit additional types and filters treat
// them as ordinary strings.
type EntityType = string

// Well-known entity types on the exchange platform.
const (
	EntityCustomer EntityType = "customer"
	EntityService  EntityType = "service"
	EntityRoute    EntityType = "route"
	EntityFacility EntityType = "facility"
	EntityShipment EntityType = "shipment"
)

// Type identifies the lifecycle transition an event describes.
type Type = string

// Recognized event types.
const (
	TypeCreated       Type = "created"
	TypeUpdated       Type = "updated"
	TypeDeleted       Type = "deleted"
	TypeStatusChanged Type = "status_changed"
	TypeError         Type = "error"
	TypeFailed        Type = "failed"
	TypeCustom        Type = "custom"
)

// Event is the unit of distribution. Events are immutable once published;
// components share pointers but never mutate the pointee.
type Event struct {
	ID         string         `json:"id"`
	EntityType EntityType     `json:"entityType"`
	EventType  Type           `json:"eventType"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"eventData,omitempty"`
	Source     string         `json:"source,omitempty"`
	Version    string         `json:"version,omitempty"`
}

// New creates an event with a generated id and current timestamp.
func New(entityType EntityType, eventType Type, data map[string]any) *Event {
	return &Event{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EventType:  eventType,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}
}

// Validate checks the minimal shape required for distribution.
func (e *Event) Validate() error {
	if e == nil {
		return errors.WrapInvalid(errors.ErrInvalidEvent, "Event", "Validate", "nil event")
	}
	if e.EntityType == "" {
		return errors.WrapInvalid(errors.ErrInvalidEvent, "Event", "Validate", "missing entityType")
	}
	if e.EventType == "" {
		return errors.WrapInvalid(errors.ErrInvalidEvent, "Event", "Validate", "missing eventType")
	}
	return nil
}

// IsError reports whether the event represents an error condition.
func (e *Event) IsError() bool {
	return e.EventType == TypeError || e.EventType == TypeFailed
}

// identityKeys are checked in order when extracting the entity id from the
// event payload.
var identityKeys = []string{"entityId", "entity_id", "id", "uuid"}

// EntityID extracts the entity identifier from the event payload, falling
// back to "unknown" when no identifier field is present.
func (e *Event) EntityID() string {
	if e == nil || e.Data == nil {
		return "unknown"
	}
	for _, key := range identityKeys {
		if v, ok := e.Data[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return "unknown"
}

// CorrelationKey groups events belonging to the same entity instance.
func (e *Event) CorrelationKey() string {
	return e.EntityType + "-" + e.EntityID()
}

// Duration returns the first duration-like payload field in milliseconds.
// Detectors use this for performance and timing analysis.
func (e *Event) Duration() (float64, bool) {
	return e.numericField("duration", "processingTime", "responseTime")
}

// Volume returns the first volume-like payload field.
func (e *Event) Volume() (float64, bool) {
	return e.numericField("volume", "quantity", "amount")
}

// numericField returns the first named payload field coercible to float64.
func (e *Event) numericField(keys ...string) (float64, bool) {
	if e == nil || e.Data == nil {
		return 0, false
	}
	for _, key := range keys {
		v, ok := e.Data[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
