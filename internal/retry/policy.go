// Package retry classifies attempt failures and schedules backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"github.com/shopharvest/crawler/internal/engine"
)

// Classification is the retry verdict for one failed attempt.
type Classification int

// Verdicts.
const (
	Retryable Classification = iota
	Permanent
)

func (c Classification) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "retryable"
}

// Config tunes the policy.
type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64
	// RetryableStatusCodes lists the HTTP codes treated as transient.
	RetryableStatusCodes []int
}

// Policy decides whether and when a failed attempt is retried. It is
// stateless per task; the queue owns attempt counts.
type Policy struct {
	cfg   Config
	codes map[int]struct{}
}

// New builds a Policy, applying defaults for unset knobs.
func New(cfg Config) *Policy {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if len(cfg.RetryableStatusCodes) == 0 {
		cfg.RetryableStatusCodes = []int{429, 500, 502, 503, 504}
	}
	codes := make(map[int]struct{}, len(cfg.RetryableStatusCodes))
	for _, code := range cfg.RetryableStatusCodes {
		codes[code] = struct{}{}
	}
	return &Policy{cfg: cfg, codes: codes}
}

// MaxRetries caps the total attempts a task may consume.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// Exhausted reports whether the attempt count has used up the retry budget.
func (p *Policy) Exhausted(attempts int) bool {
	return attempts >= p.cfg.MaxRetries
}

// Classify maps an attempt error onto the retry taxonomy: timeouts,
// connection failures, and transient HTTP codes are retryable; other HTTP
// codes, parse failures, and block pages are permanent.
func (p *Policy) Classify(err error) Classification {
	if err == nil {
		return Permanent
	}

	var attemptErr *engine.AttemptError
	if errors.As(err, &attemptErr) {
		switch attemptErr.Kind {
		case engine.KindTimeout, engine.KindConnectionFailed:
			return Retryable
		case engine.KindHTTPStatus:
			if _, ok := p.codes[attemptErr.StatusCode]; ok {
				return Retryable
			}
			return Permanent
		case engine.KindParseFailure, engine.KindBlocked:
			return Permanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}

	// Unknown errors are retried; the attempt budget bounds the damage.
	return Retryable
}

// NextDelay computes base * factor^attempts, capped at the maximum, plus a
// random jitter in [0, delay * jitterFraction).
func (p *Policy) NextDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.BackoffFactor, float64(attempts))
	if delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	base := time.Duration(delay)
	return base + p.jitter(time.Duration(delay*p.cfg.JitterFraction))
}

func (p *Policy) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
