// Package breaker implements the three-state circuit breaker guarding the
// task runner's consumer loop.
//
// The breaker counts consecutive execution failures. Once the threshold is
// reached it opens and denies attempts until a cooldown elapses, then admits
// a bounded number of probe attempts (half-open). A probe success closes the
// circuit, a probe failure reopens it. Operators can force the circuit closed
// at any time with Reset.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state.
type State string

const (
	// StateClosed admits all attempts.
	StateClosed State = "closed"

	// StateOpen denies attempts until the cooldown elapses.
	StateOpen State = "open"

	// StateHalfOpen admits up to the probe budget while testing whether the
	// underlying failure condition has cleared.
	StateHalfOpen State = "half_open"
)

// Config controls breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before allowing probes.
	Cooldown time.Duration

	// ProbeBudget is the maximum number of attempts admitted per half-open
	// episode. Re-entering half-open after another cooldown restores the
	// budget.
	ProbeBudget int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		ProbeBudget:      1,
	}
}

// Details is a point-in-time snapshot of breaker state.
type Details struct {
	State            State     `json:"state"`
	FailureCount     int       `json:"failure_count"`
	FailureThreshold int       `json:"failure_threshold"`
	ProbesUsed       int       `json:"probes_used"`
	ProbeBudget      int       `json:"probe_budget"`
	LastTransition   time.Time `json:"last_transition_at"`
}

// Breaker is a three-state circuit breaker. All methods are safe for
// concurrent use.
//
// State, failure count and transition timestamp change together, so the
// breaker serializes mutation behind a mutex rather than juggling atomics;
// Details must never observe a half-applied transition.
type Breaker struct {
	mu sync.Mutex

	cfg            Config
	state          State
	failures       int
	probes         int
	lastTransition time.Time

	now func() time.Time
}

// New creates a closed breaker with the given config. Zero or negative
// threshold and probe budget fall back to defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = def.ProbeBudget
	}
	return &Breaker{
		cfg:            cfg,
		state:          StateClosed,
		lastTransition: time.Now(),
		now:            time.Now,
	}
}

// Allow reports whether an attempt may start now.
//
// Closed: always true. Open: false until the cooldown has elapsed, at which
// point the breaker transitions to half-open and starts admitting probes.
// Half-open: true while the probe budget lasts.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastTransition) < b.cfg.Cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		return b.takeProbe()
	case StateHalfOpen:
		return b.takeProbe()
	default:
		return true
	}
}

// RecordSuccess records a successful attempt. While half-open this closes
// the circuit; while closed it clears the consecutive failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateClosed)
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure records a failed attempt. A probe failure reopens the
// circuit immediately; otherwise the circuit opens once the consecutive
// failure count reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// Reset is the operator override: force the circuit closed and zero the
// failure count regardless of history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// State returns the current circuit state.
//
// An open circuit whose cooldown has elapsed still reports open until the
// next Allow call performs the transition; state changes only through
// attempts and recordings.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Details returns a consistent snapshot of the breaker.
func (b *Breaker) Details() Details {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Details{
		State:            b.state,
		FailureCount:     b.failures,
		FailureThreshold: b.cfg.FailureThreshold,
		ProbesUsed:       b.probes,
		ProbeBudget:      b.cfg.ProbeBudget,
		LastTransition:   b.lastTransition,
	}
}

// transition moves to the target state and applies entry actions.
// Callers must hold the mutex.
func (b *Breaker) transition(to State) {
	b.state = to
	b.lastTransition = b.now()
	switch to {
	case StateClosed:
		b.failures = 0
		b.probes = 0
	case StateHalfOpen:
		b.probes = 0
	}
}

// takeProbe consumes one probe if the budget allows. Callers must hold the
// mutex and be in half-open state.
func (b *Breaker) takeProbe() bool {
	if b.probes >= b.cfg.ProbeBudget {
		return false
	}
	b.probes++
	return true
}
