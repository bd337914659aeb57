package ti

import (
	"sync"
	"time"
)

// BreakerState is the observable state of a per-source circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Breaker is the circuit breaker guarding one reputation source. It is shared
// across every concurrent scan querying that source and lives for the life of
// the process.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	clock     func() time.Time

	state    BreakerState
	failures int
	openedAt time.Time
	// trialInFlight marks that the single HALF_OPEN trial call is running.
	trialInFlight bool
}

// NewBreaker creates a closed breaker. A nil clock uses time.Now.
func NewBreaker(threshold int, cooldown time.Duration, clock func() time.Time) *Breaker {
	if clock == nil {
		clock = time.Now
	}

	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed and the state observed at that
// moment. An open breaker whose cool-down has elapsed moves to HALF_OPEN and
// admits exactly one trial call; every other caller is rejected until the
// trial settles.
func (b *Breaker) Allow() (bool, BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, BreakerClosed
	case BreakerOpen:
		if b.clock().Sub(b.openedAt) < b.cooldown {
			return false, BreakerOpen
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true

		return true, BreakerHalfOpen
	case BreakerHalfOpen:
		if b.trialInFlight {
			return false, BreakerHalfOpen
		}
		b.trialInFlight = true

		return true, BreakerHalfOpen
	}

	return false, b.state
}

// Success records a successful call: the breaker closes and the failure
// counter resets.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.trialInFlight = false
}

// Failure records a failed call. Reaching the threshold, or failing the
// HALF_OPEN trial, opens the breaker and restarts the cool-down.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.clock()
		b.trialInFlight = false

		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.clock()
	}
}

// State returns the current state without transitioning it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// BreakerSet owns one breaker per source name. Process-wide and safe for
// concurrent use; breakers are created lazily.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// NewBreakerSet creates an empty set with shared thresholds.
func NewBreakerSet(threshold int, cooldown time.Duration, clock func() time.Time) *BreakerSet {
	return &BreakerSet{
		breakers:  map[string]*Breaker{},
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
	}
}

// Get returns the breaker for the named source, creating it when first seen.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(s.threshold, s.cooldown, s.clock)
		s.breakers[name] = b
	}

	return b
}
