// Package circuitbreaker protects JSON-RPC node access from cascading
// failures: after a run of consecutive errors the circuit opens and calls
// fail fast until a cooling-off period has passed.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the circuit state.
type State int

const (
	StateClosed   State = iota // normal operation, calls pass through
	StateOpen                  // calls fail fast
	StateHalfOpen              // probing whether the node recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open
	// state before the circuit closes again.
	SuccessThreshold int

	// CoolDown is how long the circuit stays open before probing.
	CoolDown time.Duration

	// OnStateChange, if set, is notified of transitions.
	OnStateChange func(from, to State)
}

// DefaultConfig returns thresholds suited to flaky public RPC endpoints.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	mu sync.RWMutex

	config Config
	state  State

	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time
}

// New creates a breaker, filling zero config fields with defaults.
func New(config Config) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.CoolDown <= 0 {
		config.CoolDown = def.CoolDown
	}
	return &Breaker{config: config, state: StateClosed}
}

// State returns the current state, accounting for cool-down expiry.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentState()
}

// currentState must be called with at least a read lock held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && time.Since(b.lastFailureTime) >= b.config.CoolDown {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a call should be let through. In half-open state a
// probe is allowed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState() != StateOpen
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++

	if b.currentState() == StateHalfOpen && b.consecutiveSuccesses >= b.config.SuccessThreshold {
		b.setState(StateClosed)
		b.consecutiveSuccesses = 0
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccesses = 0
	b.consecutiveFailures++
	b.lastFailureTime = time.Now()

	switch b.currentState() {
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens the circuit.
		b.setState(StateOpen)
	}
}

// Reset closes the circuit and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.setState(StateClosed)
}

// setState must be called with the write lock held.
func (b *Breaker) setState(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	if b.config.OnStateChange != nil {
		// Notify without holding the caller hostage.
		go b.config.OnStateChange(prev, next)
	}
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailureTime      time.Time
}

// Stats returns the current counters.
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		State:                b.currentState(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailureTime:      b.lastFailureTime,
	}
}
