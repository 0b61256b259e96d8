// Package ratelimit implements token bucket admission control per endpoint class.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClassConfig is the budget for one endpoint class.
type ClassConfig struct {
	// RPS is the refill rate in requests per second. Zero or negative means
	// the class is unlimited.
	RPS float64
	// Burst is the bucket capacity. Values below 1 are raised to 1.
	Burst int
}

// Config holds the per-class budgets. Classes absent from the map default to
// unlimited.
type Config struct {
	Classes map[string]ClassConfig
}

// Limiter hands out admission grants per endpoint class. Admit never blocks;
// it reports how long the caller must wait before the reserved token is
// compliant, leaving suspension to the caller.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	classes map[string]ClassConfig
}

// New creates a Limiter from the configured class budgets.
func New(cfg Config) *Limiter {
	classes := make(map[string]ClassConfig, len(cfg.Classes))
	for name, cc := range cfg.Classes {
		classes[name] = cc
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		classes: classes,
	}
}

// Admit reserves one token for the class and returns the wait the caller owes
// before proceeding. Zero means the request is compliant immediately.
// Safe for concurrent callers; token consumption is atomic inside the bucket.
func (l *Limiter) Admit(class string) time.Duration {
	limiter := l.bucket(class)
	res := limiter.Reserve()
	if !res.OK() {
		// Unreachable with burst >= 1, but never admit uncontrolled.
		return time.Second
	}
	return res.Delay()
}

func (l *Limiter) bucket(class string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.buckets[class]; ok {
		return limiter
	}
	limit := rate.Inf
	burst := 1
	if cc, ok := l.classes[class]; ok {
		if cc.RPS > 0 {
			limit = rate.Limit(cc.RPS)
		}
		if cc.Burst > burst {
			burst = cc.Burst
		}
	}
	limiter := rate.NewLimiter(limit, burst)
	l.buckets[class] = limiter
	return limiter
}
