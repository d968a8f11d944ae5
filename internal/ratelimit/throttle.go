package ratelimit

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LogThrottle coalesces noisy repeated log lines: repeated events within the
// interval are counted instead of logged. Attention-shaping only, never a
// correctness gate.
type LogThrottle struct {
	lim        *rate.Limiter
	suppressed atomic.Int64
}

// NewLogThrottle allows one line per interval, counting the rest
func NewLogThrottle(interval time.Duration) *LogThrottle {
	return &LogThrottle{
		lim: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Allow reports whether the caller should emit its log line now
func (t *LogThrottle) Allow() bool {
	if t.lim.Allow() {
		return true
	}
	t.suppressed.Add(1)
	return false
}

// TakeSuppressed returns and resets the count of coalesced lines
func (t *LogThrottle) TakeSuppressed() int64 {
	return t.suppressed.Swap(0)
}
