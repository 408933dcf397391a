package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiter enforces a per-client publish rate. Clients are keyed by
// remote IP; a zero rate disables limiting entirely.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newClientLimiter(eventsPerSec float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(eventsPerSec),
		burst:    burst,
	}
}

// allow reports whether the client may proceed, consuming one token if so.
func (l *clientLimiter) allow(client string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
