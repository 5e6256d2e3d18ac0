package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON health payloads.
func (s CircuitBreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state written by MarshalText.
func (s *CircuitBreakerState) UnmarshalText(text []byte) error {
	for _, candidate := range []CircuitBreakerState{StateClosed, StateOpen, StateHalfOpen} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown circuit breaker state %q", text)
}

// ErrCircuitOpen is matched by every error the breaker returns while it is
// refusing calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // Consecutive failures before opening
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`  // Time to wait before a trial call
	SuccessThreshold int           `json:"success_threshold"` // Trial successes needed to close again
}

// DefaultCircuitBreakerConfig is tuned for a single detection engine.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker stops calling the detection engine after repeated
// transport failures and lets a trial call through once RecoveryTimeout
// has passed.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	successes   int
	lastFailure time.Time
	nextAttempt time.Time
	// trialInFlight is set while the single half-open trial call runs.
	trialInFlight bool
}

// NewCircuitBreaker creates a circuit breaker, filling zero config values with defaults
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Call executes fn with circuit breaker protection. A non-nil error from fn
// counts as a failure unless it was wrapped with Uncounted. While half-open
// only one trial call runs at a time; the others are refused.
func (cb *CircuitBreaker) Call(fn func() error) error {
	trial, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn()

	var uncounted *uncountedError
	switch {
	case errors.As(err, &uncounted):
		cb.onUncounted(trial)
		return uncounted.err
	case err != nil:
		cb.onFailure(trial)
		return err
	}

	cb.onSuccess(trial)
	return nil
}

// uncountedError carries an outcome that says nothing about upstream health.
type uncountedError struct {
	err error
}

func (e *uncountedError) Error() string { return e.err.Error() }
func (e *uncountedError) Unwrap() error { return e.err }

// Uncounted marks err as neither a success nor a failure of the guarded
// service, such as a caller that gave up. Call returns err unwrapped.
func Uncounted(err error) error {
	if err == nil {
		return nil
	}
	return &uncountedError{err: err}
}

// allow admits a call and reports whether it is the half-open trial.
func (cb *CircuitBreaker) allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Before(cb.nextAttempt) {
			return false, &CircuitBreakerError{Name: cb.name, State: cb.state, RetryAt: cb.nextAttempt}
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.trialInFlight = false
	}
	if cb.state == StateHalfOpen {
		if cb.trialInFlight {
			return false, &CircuitBreakerError{Name: cb.name, State: cb.state, RetryAt: cb.now()}
		}
		cb.trialInFlight = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) onFailure(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}
	cb.failures++
	cb.successes = 0
	cb.lastFailure = cb.now()

	// A failed trial call reopens immediately.
	if (trial && cb.state == StateHalfOpen) || (cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold) {
		cb.state = StateOpen
		cb.nextAttempt = cb.lastFailure.Add(cb.config.RecoveryTimeout)
	}
}

func (cb *CircuitBreaker) onSuccess(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		// Calls admitted before the circuit opened do not vote on recovery.
		if !trial {
			return
		}
		cb.trialInFlight = false
		cb.failures = 0
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
		}
	}
}

func (cb *CircuitBreaker) onUncounted(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.trialInFlight = false
}

// CircuitBreakerStats is the breaker section of the health endpoint.
type CircuitBreakerStats struct {
	Name        string              `json:"name"`
	State       CircuitBreakerState `json:"state"`
	Failures    int                 `json:"failures"`
	LastFailure *time.Time          `json:"last_failure,omitempty"`
	NextAttempt *time.Time          `json:"next_attempt,omitempty"`
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := CircuitBreakerStats{
		Name:     cb.name,
		State:    cb.state,
		Failures: cb.failures,
	}
	if !cb.lastFailure.IsZero() {
		last := cb.lastFailure
		stats.LastFailure = &last
	}
	if cb.state == StateOpen {
		next := cb.nextAttempt
		stats.NextAttempt = &next
	}
	return stats
}

// CircuitBreakerError is returned instead of calling through while the circuit is open
type CircuitBreakerError struct {
	Name    string
	State   CircuitBreakerState
	RetryAt time.Time
}

func (e *CircuitBreakerError) Error() string {
	return "circuit breaker " + e.Name + " is " + e.State.String()
}

// Is lets errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitOpen
}
