package event

import (
	"time"
)

// Priority orders delivery urgency within a destination.
type Priority string

// Delivery priorities.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// DeliveryStatus tracks a queued event through the delivery pipeline.
type DeliveryStatus string

// Delivery statuses. Delivered and Failed are terminal.
const (
	StatusPending   DeliveryStatus = "pending"
	StatusRetrying  DeliveryStatus = "retrying"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// Terminal reports whether the status admits no further delivery attempts.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// QueuedEvent wraps an Event with delivery bookkeeping. Owned exclusively
// by the delivery queue; external callers observe copies via status queries.
type QueuedEvent struct {
	DeliveryID string            `json:"deliveryId"`
	Event      *Event            `json:"event"`
	Priority   Priority          `json:"priority"`
	Guaranteed bool              `json:"guaranteed"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	RetryCount int            `json:"retryCount"`
	Status     DeliveryStatus `json:"status"`
	LastError  string         `json:"lastError,omitempty"`

	QueuedAt    time.Time `json:"queuedAt"`
	LastAttempt time.Time `json:"lastAttempt,omitempty"`
	DeliveredAt time.Time `json:"deliveredAt,omitempty"`
}
