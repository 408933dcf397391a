package queue

import "time"

// SignalType discriminates queue delivery signals.
type SignalType string

// Signal types.
const (
	SignalDelivered      SignalType = "delivered"
	SignalFailed         SignalType = "failed"
	SignalBatchProcessed SignalType = "batchProcessed"
)

// Signal reports a delivery outcome or a batch summary. Delivered and
// failed signals carry item identity; batchProcessed signals carry counts.
type Signal struct {
	Type        SignalType `json:"type"`
	DeliveryID  string     `json:"deliveryId,omitempty"`
	EventID     string     `json:"eventId,omitempty"`
	Destination string     `json:"destination"`
	RetryCount  int        `json:"retryCount,omitempty"`
	Error       string     `json:"error,omitempty"`
	BatchSize   int        `json:"batchSize,omitempty"`
	Succeeded   int        `json:"succeeded,omitempty"`
	Failed      int        `json:"failed,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}
