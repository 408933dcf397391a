package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks ring performance counters. All counters are safe for
// concurrent use.
type Statistics struct {
	writes    int64
	snapshots int64
	overflows int64
	drops     int64
	expires   int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records a ring append.
func (s *Statistics) Write() {
	atomic.AddInt64(&s.writes, 1)
}

// Snapshot records a snapshot read.
func (s *Statistics) Snapshot() {
	atomic.AddInt64(&s.snapshots, 1)
}

// Overflow records a capacity overflow.
func (s *Statistics) Overflow() {
	atomic.AddInt64(&s.overflows, 1)
}

// Drop records an item displaced by capacity.
func (s *Statistics) Drop() {
	atomic.AddInt64(&s.drops, 1)
}

// Expire records an item evicted by age.
func (s *Statistics) Expire() {
	atomic.AddInt64(&s.expires, 1)
}

// UpdateSize records the current ring size and tracks the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
}

// Counts returns a point-in-time view of all counters.
func (s *Statistics) Counts() (writes, snapshots, overflows, drops, expires int64) {
	return atomic.LoadInt64(&s.writes),
		atomic.LoadInt64(&s.snapshots),
		atomic.LoadInt64(&s.overflows),
		atomic.LoadInt64(&s.drops),
		atomic.LoadInt64(&s.expires)
}

// Size returns the last recorded size and the high-water mark.
func (s *Statistics) Size() (current, max int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize, s.maxSize
}

// Uptime returns the time elapsed since the statistics were created.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}
