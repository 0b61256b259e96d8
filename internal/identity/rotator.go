// Package identity manages the shared (proxy, user-agent) pool and its
// rotation policy.
package identity

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopharvest/crawler/internal/engine"
)

// ErrPoolExhausted is returned when every identity is degraded or checked
// out. Callers must treat it as a transient stall, not a task failure.
var ErrPoolExhausted = errors.New("identity pool exhausted")

// Strategy is the closed set of rotation policies, fixed for the run.
type Strategy string

// Supported rotation strategies.
const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
	StrategySticky     Strategy = "sticky"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyRoundRobin, StrategyRandom, StrategySticky:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("unknown rotation strategy %q", name)
	}
}

// Outcome is the caller's verdict on the attempt an identity served.
type Outcome string

// Release outcomes. Only identity-attributable failures count toward
// degradation.
const (
	OutcomeOK              Outcome = "ok"
	OutcomeIdentityFailure Outcome = "identity_failure"
	OutcomeTargetFailure   Outcome = "target_failure"
)

// Config describes the identity pool.
type Config struct {
	Proxies          []string
	UserAgents       []string
	Strategy         Strategy
	StickyInterval   time.Duration // rotation interval for the sticky strategy
	FailureThreshold int           // failures before an identity is degraded
	Cooldown         time.Duration // how long a degraded identity stays excluded
}

type entry struct {
	id            engine.Identity
	checkedOut    bool
	failures      int
	degradedUntil time.Time
}

func (e *entry) usable(now time.Time) bool {
	return !e.checkedOut && !now.Before(e.degradedUntil)
}

type stickyState struct {
	label string
	until time.Time
}

// Rotator checks identities in and out of the pool under the configured
// strategy. Identities are created once from configuration and persist for
// the whole run; degradation excludes them only until the cool-down elapses.
type Rotator struct {
	mu      sync.Mutex
	entries []*entry
	byLabel map[string]*entry
	next    int
	sticky  map[string]stickyState
	rng     *rand.Rand
	cfg     Config
	clock   engine.Clock
}

// New builds the pool from configuration. The pool size is the larger of the
// proxy and user-agent lists; entries pair the two lists cyclically, matching
// how the source lists are rotated independently.
func New(cfg Config, clock engine.Clock) (*Rotator, error) {
	if len(cfg.UserAgents) == 0 {
		return nil, fmt.Errorf("identity pool requires at least one user agent")
	}
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("identity failure threshold must be > 0")
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("identity cooldown must be > 0")
	}
	if cfg.Strategy == StrategySticky && cfg.StickyInterval <= 0 {
		return nil, fmt.Errorf("sticky strategy requires a rotation interval")
	}

	size := len(cfg.UserAgents)
	if len(cfg.Proxies) > size {
		size = len(cfg.Proxies)
	}
	entries := make([]*entry, 0, size)
	byLabel := make(map[string]*entry, size)
	for i := 0; i < size; i++ {
		proxy := ""
		if len(cfg.Proxies) > 0 {
			proxy = cfg.Proxies[i%len(cfg.Proxies)]
		}
		e := &entry{id: engine.Identity{
			Label:     fmt.Sprintf("identity-%d", i),
			Proxy:     proxy,
			UserAgent: cfg.UserAgents[i%len(cfg.UserAgents)],
		}}
		entries = append(entries, e)
		byLabel[e.id.Label] = e
	}

	return &Rotator{
		entries: entries,
		byLabel: byLabel,
		sticky:  make(map[string]stickyState),
		rng:     rand.New(rand.NewSource(clock.Now().UnixNano())),
		cfg:     cfg,
		clock:   clock,
	}, nil
}

// Size returns the pool size.
func (r *Rotator) Size() int {
	return len(r.entries)
}

// Checkout leases an identity for one attempt. It returns ErrPoolExhausted
// when no identity is currently usable.
func (r *Rotator) Checkout(endpointClass string) (engine.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var e *entry
	switch r.cfg.Strategy {
	case StrategySticky:
		e = r.pickSticky(endpointClass, now)
	case StrategyRandom:
		e = r.pickRandom(now)
	default:
		e = r.pickRoundRobin(now)
	}
	if e == nil {
		return engine.Identity{}, ErrPoolExhausted
	}
	e.checkedOut = true
	return e.id, nil
}

// Release returns an identity to the pool. Identity-attributable failures
// increment the failure counter; crossing the threshold degrades the identity
// until the cool-down elapses.
func (r *Rotator) Release(id engine.Identity, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byLabel[id.Label]
	if !ok {
		return
	}
	e.checkedOut = false
	switch outcome {
	case OutcomeOK:
		e.failures = 0
	case OutcomeIdentityFailure:
		e.failures++
		if e.failures >= r.cfg.FailureThreshold {
			e.degradedUntil = r.clock.Now().Add(r.cfg.Cooldown)
			e.failures = 0
		}
	}
}

// Degraded reports how many identities are currently excluded.
func (r *Rotator) Degraded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	n := 0
	for _, e := range r.entries {
		if now.Before(e.degradedUntil) {
			n++
		}
	}
	return n
}

func (r *Rotator) pickRoundRobin(now time.Time) *entry {
	for i := 0; i < len(r.entries); i++ {
		e := r.entries[(r.next+i)%len(r.entries)]
		if e.usable(now) {
			r.next = (r.next + i + 1) % len(r.entries)
			return e
		}
	}
	return nil
}

func (r *Rotator) pickRandom(now time.Time) *entry {
	usable := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.usable(now) {
			usable = append(usable, e)
		}
	}
	if len(usable) == 0 {
		return nil
	}
	return usable[r.rng.Intn(len(usable))]
}

// pickSticky reuses the class's current identity until the interval elapses
// or the identity becomes unusable, then rotates like round-robin.
func (r *Rotator) pickSticky(endpointClass string, now time.Time) *entry {
	if st, ok := r.sticky[endpointClass]; ok && now.Before(st.until) {
		if e, ok := r.byLabel[st.label]; ok && e.usable(now) {
			return e
		}
	}
	e := r.pickRoundRobin(now)
	if e == nil {
		return nil
	}
	r.sticky[endpointClass] = stickyState{
		label: e.id.Label,
		until: now.Add(r.cfg.StickyInterval),
	}
	return e
}
