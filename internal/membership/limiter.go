package membership

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxLimiterKeys = 10000

// keyedLimiter rate-limits credential attempts per client IP.
type keyedLimiter struct {
	mu    sync.Mutex
	every rate.Limit
	burst int
	keys  map[string]*rate.Limiter
}

// newKeyedLimiter allows perMinute attempts per key per minute. Zero or less
// disables limiting.
func newKeyedLimiter(perMinute int) *keyedLimiter {
	if perMinute <= 0 {
		return &keyedLimiter{every: rate.Inf}
	}
	return &keyedLimiter{
		every: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: perMinute,
		keys:  make(map[string]*rate.Limiter),
	}
}

func (l *keyedLimiter) allow(key string) bool {
	if l.every == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.keys[key]
	if !ok {
		if len(l.keys) >= maxLimiterKeys {
			l.keys = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.every, l.burst)
		l.keys[key] = lim
	}
	return lim.Allow()
}
