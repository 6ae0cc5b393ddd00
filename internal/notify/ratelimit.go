package notify

import (
	"sync"
	"time"
)

// SMSRateLimiter caps outbound SMS per organization. It is process-local:
// the target is abuse prevention, not billing accuracy, so a per-instance
// counter is acceptable. A distributed deployment can swap the map for a
// shared counter store behind the same Allow signature.
type SMSRateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*smsBucket
	now     func() time.Time
}

type smsBucket struct {
	windowStart time.Time
	count       int
}

func NewSMSRateLimiter(limit int, window time.Duration) *SMSRateLimiter {
	return &SMSRateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*smsBucket),
		now:     time.Now,
	}
}

// Allow consumes one send slot for the org, or reports that the org is over
// its hourly budget. The window resets on expiry.
func (l *SMSRateLimiter) Allow(orgID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[orgID]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[orgID] = &smsBucket{windowStart: now, count: 1}
		return true
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}
