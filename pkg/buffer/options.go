package buffer

import (
	"time"

	"github.com/c360/entitystream/metric"
)

// Option configures ring behavior using the functional options pattern.
type Option[T any] func(*ringOptions[T])

// ringOptions holds internal configuration for ring instances.
// Stats are always collected; metrics are opt-in.
type ringOptions[T any] struct {
	maxAge       time.Duration
	now          func() time.Time
	dropCallback func(T)

	metricsReg    *metric.Registry
	metricsPrefix string
}

func applyOptions[T any](options ...Option[T]) *ringOptions[T] {
	opts := &ringOptions[T]{
		now: time.Now,
	}
	for _, o := range options {
		o(opts)
	}
	return opts
}

// WithMaxAge bounds retained items by age. Zero disables age eviction.
func WithMaxAge[T any](maxAge time.Duration) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.maxAge = maxAge
	}
}

// WithClock overrides the time source. Used by tests to exercise
// age-based eviction deterministically.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(opts *ringOptions[T]) {
		if now != nil {
			opts.now = now
		}
	}
}

// WithDropCallback sets a callback invoked for every item displaced by
// capacity, expired by age, or cleared. The callback runs outside the
// ring's lock.
func WithDropCallback[T any](callback func(T)) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.dropCallback = callback
	}
}

// WithMetrics enables Prometheus metrics export for ring statistics.
// Ignored when registry is nil or prefix is empty.
func WithMetrics[T any](registry *metric.Registry, prefix string) Option[T] {
	return func(opts *ringOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}
