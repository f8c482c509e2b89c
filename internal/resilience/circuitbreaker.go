// Package resilience protects the runtime from flapping engine backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) used
// two ways: the dual pipeline latches onto it to demote the enhanced
// engine set, and [FallbackGroup] gives every engine in a failover chain
// its own breaker so a dead primary is skipped instead of retried on the
// hot path.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the call while the breaker
// is open and its reset timeout has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen].
	StateOpen

	// StateHalfOpen forwards a bounded number of probe calls to decide
	// between closing and re-opening.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes one breaker. Zero fields get defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs (e.g. "enhanced-pipeline", "llm:ollama").
	Name string

	// MaxFailures is how many consecutive failures open the breaker.
	// Default 5; the dual pipeline uses 1 for its strict demotion.
	MaxFailures int

	// ResetTimeout is the open dwell time before probing. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in half-open. Default 3.
	HalfOpenMax int
}

// CircuitBreaker tracks consecutive failures of one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewCircuitBreaker builds a closed breaker from cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn when the breaker allows it and feeds the outcome back
// into the failure accounting. While open it returns [ErrCircuitOpen]
// without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn()
	cb.record(err, probe)
	return err
}

// allow decides whether a call may proceed, handling the open → half-open
// transition. The returned bool marks the call as a half-open probe.
func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker half-open", "name", cb.cfg.Name)

	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// record folds one call outcome into the state machine.
func (cb *CircuitBreaker) record(callErr error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case callErr != nil && probe:
		// A failed probe re-opens immediately.
		cb.probeFails++
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.failures = cb.cfg.MaxFailures
		slog.Warn("circuit breaker re-opened", "name", cb.cfg.Name)

	case callErr != nil:
		cb.failures++
		cb.openedAt = cb.now()
		if cb.failures >= cb.cfg.MaxFailures {
			cb.state = StateOpen
			slog.Warn("circuit breaker opened",
				"name", cb.cfg.Name,
				"consecutive_failures", cb.failures)
		}

	case probe:
		if cb.probes-cb.probeFails >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			slog.Info("circuit breaker closed", "name", cb.cfg.Name)
		}

	default:
		cb.failures = 0
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout
// has elapsed reports half-open; the stored transition happens on the
// next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("circuit breaker reset", "name", cb.cfg.Name)
}
