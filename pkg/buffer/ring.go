// Package buffer provides a generic, thread-safe bounded ring used for
// event replay and rolling history.
//
// Unlike a consuming queue, the ring keeps items until they are displaced
// by capacity or expire by age; readers take non-consuming snapshots in
// arrival order. Statistics are always collected; Prometheus metrics are
// optional via WithMetrics().
package buffer

import (
	"sync"
	"time"
)

// slot pairs a stored item with its arrival time for age-based eviction.
type slot[T any] struct {
	item     T
	storedAt time.Time
}

// Ring is a bounded, age-aware ring buffer. When full, the oldest item is
// dropped to make room. Items older than the configured max age are evicted
// lazily on the next write or snapshot.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []slot[T]
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest item position
	maxAge   time.Duration
	now      func() time.Time
	stats    *Statistics
	metrics  *ringMetrics
	dropFn   func(T)
}

// NewRing creates a ring with the given capacity and options.
func NewRing[T any](capacity int, options ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	opts := applyOptions(options...)

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	return &Ring[T]{
		items:    make([]slot[T], capacity),
		capacity: capacity,
		maxAge:   opts.maxAge,
		now:      opts.now,
		stats:    NewStatistics(),
		metrics:  metrics,
		dropFn:   opts.dropCallback,
	}, nil
}

// Append adds an item, displacing the oldest when the ring is full.
func (r *Ring[T]) Append(item T) {
	var dropped []T

	r.mu.Lock()
	dropped = r.evictExpiredLocked(dropped)

	if r.size == r.capacity {
		dropped = append(dropped, r.items[r.tail].item)
		r.removeOldestLocked()
		r.stats.Overflow()
		r.stats.Drop()
		if r.metrics != nil {
			r.metrics.recordDrop()
		}
	}

	r.items[r.head] = slot[T]{item: item, storedAt: r.now()}
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}
	r.mu.Unlock()

	// Callbacks run outside the lock so callers may re-enter the ring.
	if r.dropFn != nil {
		for _, d := range dropped {
			r.dropFn(d)
		}
	}
}

// Snapshot returns the retained items satisfying keep, in arrival order.
// A nil keep returns everything. The snapshot does not consume items.
func (r *Ring[T]) Snapshot(keep func(T) bool) []T {
	var dropped []T

	r.mu.Lock()
	dropped = r.evictExpiredLocked(dropped)

	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		it := r.items[(r.tail+i)%r.capacity].item
		if keep == nil || keep(it) {
			out = append(out, it)
		}
	}
	r.stats.Snapshot()
	r.mu.Unlock()

	if r.dropFn != nil {
		for _, d := range dropped {
			r.dropFn(d)
		}
	}
	return out
}

// Len returns the current number of retained items (expired items included
// until the next write or snapshot evicts them).
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum number of items the ring can hold.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Clear removes all retained items.
func (r *Ring[T]) Clear() {
	var dropped []T

	r.mu.Lock()
	if r.dropFn != nil {
		for i := 0; i < r.size; i++ {
			dropped = append(dropped, r.items[(r.tail+i)%r.capacity].item)
		}
	}
	var zero slot[T]
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}
	r.mu.Unlock()

	for _, d := range dropped {
		r.dropFn(d)
	}
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}

// evictExpiredLocked drops items older than maxAge. Caller holds the lock.
func (r *Ring[T]) evictExpiredLocked(dropped []T) []T {
	if r.maxAge <= 0 {
		return dropped
	}
	cutoff := r.now().Add(-r.maxAge)
	for r.size > 0 && r.items[r.tail].storedAt.Before(cutoff) {
		dropped = append(dropped, r.items[r.tail].item)
		r.removeOldestLocked()
		r.stats.Expire()
		if r.metrics != nil {
			r.metrics.recordExpire()
		}
	}
	if len(dropped) > 0 {
		r.stats.UpdateSize(int64(r.size))
		if r.metrics != nil {
			r.metrics.updateSize(r.size, r.capacity)
		}
	}
	return dropped
}

func (r *Ring[T]) removeOldestLocked() {
	var zero slot[T]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
}
